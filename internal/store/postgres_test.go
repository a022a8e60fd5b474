package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandtrace/ownership-cli/internal/mapping"
	"github.com/brandtrace/ownership-cli/internal/model"
)

func resolutionFixture(t *testing.T, brand string) *model.Resolution {
	t.Helper()
	q, err := model.NewQuery(brand, "", "", nil)
	require.NoError(t, err)
	return &model.Resolution{Query: q, Result: testResult("Nestle S.A.", 85)}
}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresFromPool(mock), mock
}

func TestPostgresGetCachedResultHit(t *testing.T) {
	st, mock := newMockStore(t)

	want := testResult("Nestle S.A.", 85)
	resultJSON, err := json.Marshal(want)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT result FROM result_cache").
		WithArgs("fp-1").
		WillReturnRows(pgxmock.NewRows([]string{"result"}).AddRow(resultJSON))

	got, err := st.GetCachedResult(context.Background(), "fp-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Nestle S.A.", got.FinancialBeneficiary)
	assert.Equal(t, 85, got.ConfidenceScore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetCachedResultMiss(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT result FROM result_cache").
		WithArgs("fp-miss").
		WillReturnError(pgx.ErrNoRows)

	got, err := st.GetCachedResult(context.Background(), "fp-miss")
	require.NoError(t, err, "a miss is not an error")
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetCachedResult(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO result_cache").
		WithArgs("fp-1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := st.SetCachedResult(context.Background(), "fp-1", testResult("Nestle S.A.", 85), time.Hour)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteExpiredResults(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM result_cache").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := st.DeleteExpiredResults(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListMappings(t *testing.T) {
	st, mock := newMockStore(t)

	m1, err := json.Marshal(mapping.Mapping{Brand: "Cheerios", Owner: "General Mills, Inc."})
	require.NoError(t, err)
	m2, err := json.Marshal(mapping.Mapping{Brand: "Nescafe", Owner: "Nestle S.A."})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT mapping FROM brand_mappings").
		WillReturnRows(pgxmock.NewRows([]string{"mapping"}).AddRow(m1).AddRow(m2))

	got, err := st.ListMappings(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "General Mills, Inc.", got[0].Owner)
	assert.Equal(t, "Nestle S.A.", got[1].Owner)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveResolutionAssignsID(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO resolutions").
		WithArgs(pgxmock.AnyArg(), "nescafe", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	res := resolutionFixture(t, "Nescafé")
	require.NoError(t, st.SaveResolution(context.Background(), res))
	assert.NotEmpty(t, res.ID)
	assert.False(t, res.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetResolutionNotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, query, result, trace, created_at FROM resolutions").
		WithArgs("no-such-id").
		WillReturnError(pgx.ErrNoRows)

	_, err := st.GetResolution(context.Background(), "no-such-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolution not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}
