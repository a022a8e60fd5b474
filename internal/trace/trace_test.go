package trace

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderAppendOrder(t *testing.T) {
	r := NewRecorder("q-1", nil)

	r.Append(StageRecord{StageName: "cache_lookup", Status: StageFailure})
	r.Append(StageRecord{StageName: "static_mapping", Status: StageFailure})
	r.Append(StageRecord{StageName: "primary_inference", Status: StageSuccess})

	tr := r.Finalize("primary_inference")

	require.Len(t, tr.Stages, 3)
	assert.Equal(t, "cache_lookup", tr.Stages[0].StageName)
	assert.Equal(t, "static_mapping", tr.Stages[1].StageName)
	assert.Equal(t, "primary_inference", tr.Stages[2].StageName)
	assert.Equal(t, "q-1", tr.QueryID)
	assert.Equal(t, "primary_inference", tr.FinalResultMethod)
	assert.False(t, tr.StartedAt.IsZero())
}

func TestFinalizeSnapshotIsolated(t *testing.T) {
	r := NewRecorder("q-1", nil)
	r.Append(StageRecord{StageName: "a", Status: StageSuccess})

	tr := r.Finalize("a")
	r.Append(StageRecord{StageName: "b", Status: StageSuccess})

	// The finalized trace does not see later appends.
	assert.Len(t, tr.Stages, 1)
	assert.Equal(t, 2, r.Len())
}

func TestRecorderPublishes(t *testing.T) {
	pub := NewChanPublisher(4)
	r := NewRecorder("q-1", pub)

	r.Append(StageRecord{StageName: "a", Status: StageSuccess})
	r.Append(StageRecord{StageName: "b", Status: StageTimeout})

	rec := <-pub.C
	assert.Equal(t, "a", rec.StageName)
	rec = <-pub.C
	assert.Equal(t, "b", rec.StageName)
}

func TestChanPublisherDropsWhenFull(t *testing.T) {
	pub := NewChanPublisher(1)

	pub.Publish("q", StageRecord{StageName: "a"})
	pub.Publish("q", StageRecord{StageName: "b"}) // dropped, must not block

	rec := <-pub.C
	assert.Equal(t, "a", rec.StageName)
	select {
	case <-pub.C:
		t.Fatal("expected second record to be dropped")
	default:
	}
}

func TestKeyedPublisherRepublishesUnderKey(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe("fp-abc")
	defer h.Unsubscribe("fp-abc", ch)

	// The recorder carries its own query ID, but subscribers listen on
	// the shared key.
	r := NewRecorder("q-123", NewKeyedPublisher("fp-abc", h))
	r.Append(StageRecord{StageName: "static_mapping", Status: StageSuccess})

	rec := <-ch
	assert.Equal(t, "static_mapping", rec.StageName)
}

func TestDigestStable(t *testing.T) {
	assert.Equal(t, Digest("Nestle"), Digest("Nestle"))
	assert.NotEqual(t, Digest("Nestle"), Digest("Unilever"))
	assert.Empty(t, Digest(""))
	assert.Len(t, Digest("anything"), 8)
}

func TestHubRoutesByQuery(t *testing.T) {
	h := NewHub()

	chA := h.Subscribe("query-a")
	chB := h.Subscribe("query-b")

	h.Publish("query-a", StageRecord{StageName: "static_mapping"})

	rec := <-chA
	assert.Equal(t, "static_mapping", rec.StageName)
	select {
	case <-chB:
		t.Fatal("record leaked to the wrong subscriber")
	default:
	}

	h.Unsubscribe("query-a", chA)
	h.Unsubscribe("query-b", chB)

	// Publishing after unsubscribe is a no-op.
	h.Publish("query-a", StageRecord{StageName: "late"})
}

func TestHubConcurrentPublish(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe("q")
	defer h.Unsubscribe("q", ch)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Publish("q", StageRecord{StageName: "s", Duration: time.Millisecond})
		}()
	}
	wg.Wait()

	// Channel buffer is 16, so all 8 arrive.
	for i := 0; i < 8; i++ {
		select {
		case <-ch:
		default:
			t.Fatalf("expected 8 records, got %d", i)
		}
	}
}
