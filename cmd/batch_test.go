package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandtrace/ownership-cli/internal/model"
	"github.com/brandtrace/ownership-cli/internal/trace"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queries.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseQueryCSV(t *testing.T) {
	path := writeCSV(t, "Brand,Product,Country\nNescafe,Gold Blend,CH\nCheerios,,\n")

	queries, err := parseQueryCSV(path)
	require.NoError(t, err)
	require.Len(t, queries, 2)

	assert.Equal(t, "Nescafe", queries[0].Brand)
	assert.Equal(t, "Gold Blend", queries[0].ProductName)
	assert.Equal(t, map[string]string{"country": "CH"}, queries[0].Hints)

	assert.Equal(t, "Cheerios", queries[1].Brand)
	assert.Nil(t, queries[1].Hints, "empty cells do not become hints")
}

func TestParseQueryCSVBarcodeAliases(t *testing.T) {
	for _, col := range []string{"barcode", "EAN", "upc"} {
		path := writeCSV(t, col+"\n3017620422003\n")

		queries, err := parseQueryCSV(path)
		require.NoError(t, err, col)
		require.Len(t, queries, 1, col)
		assert.Equal(t, "3017620422003", queries[0].Barcode)
	}
}

func TestParseQueryCSVSkipsEmptyRows(t *testing.T) {
	path := writeCSV(t, "brand,product\n,\nNescafe,\n")

	queries, err := parseQueryCSV(path)
	require.NoError(t, err)
	require.Len(t, queries, 1, "row without any identity is skipped")
	assert.Equal(t, "Nescafe", queries[0].Brand)
}

func TestParseQueryCSVRaggedRows(t *testing.T) {
	path := writeCSV(t, "brand,product\nNescafe\nCheerios,Oat Rings,extra\n")

	queries, err := parseQueryCSV(path)
	require.NoError(t, err)
	require.Len(t, queries, 2)
	assert.Equal(t, "Oat Rings", queries[1].ProductName)
}

func TestParseQueryCSVMissingFile(t *testing.T) {
	_, err := parseQueryCSV(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}

func unresolvedResolution(t *testing.T, stages []trace.StageRecord) (model.OwnershipQuery, *model.Resolution) {
	t.Helper()
	q, err := model.NewQuery("Obscure Brand", "", "", nil)
	require.NoError(t, err)

	return q, &model.Resolution{
		Query: q,
		Result: &model.OwnershipResult{
			QueryID:    q.QueryID,
			ResultType: model.MethodInsufficientEvidence,
		},
		Trace: &trace.ExecutionTrace{QueryID: q.QueryID, Stages: stages},
	}
}

func TestDeadLetterForPermanent(t *testing.T) {
	q, res := unresolvedResolution(t, []trace.StageRecord{
		{StageName: "static_mapping", Status: trace.StageFailure},
		{StageName: "primary_inference", Status: trace.StageFailure},
	})

	d := deadLetterFor(q, res)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, "permanent", d.ErrorClass)
	assert.Equal(t, "insufficient evidence", d.Error)
	assert.Equal(t, 3, d.MaxRetries)
	assert.True(t, d.CanRetry())
	assert.WithinDuration(t, time.Now(), d.CreatedAt, time.Minute)
}

func TestDeadLetterForTransient(t *testing.T) {
	q, res := unresolvedResolution(t, []trace.StageRecord{
		{StageName: "primary_inference", Status: trace.StageTimeout},
		{StageName: "web_search_inference", Status: trace.StageSkipped},
	})

	d := deadLetterFor(q, res)
	assert.Equal(t, "transient", d.ErrorClass)
	assert.Equal(t, "primary_inference: timeout", d.Error)
}
