// Package trace provides the append-only execution record for one
// resolution: which stages ran, in what order, and how they fared.
package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// StageStatus is the terminal state of one stage attempt.
type StageStatus string

const (
	StageSuccess StageStatus = "success"
	StageFailure StageStatus = "failure"
	StageTimeout StageStatus = "timeout"
	StageSkipped StageStatus = "skipped"
)

// StageRecord captures a single stage attempt. Once appended it is never
// rewritten.
type StageRecord struct {
	StageName    string        `json:"stage_name"`
	Status       StageStatus   `json:"status"`
	Duration     time.Duration `json:"duration_ms"`
	InputDigest  string        `json:"input_digest,omitempty"`
	OutputDigest string        `json:"output_digest,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// ExecutionTrace is the complete record for one query.
type ExecutionTrace struct {
	QueryID           string        `json:"query_id"`
	Stages            []StageRecord `json:"stages"`
	StartedAt         time.Time     `json:"started_at"`
	TotalDuration     time.Duration `json:"total_duration_ms"`
	FinalResultMethod string        `json:"final_result_method,omitempty"`
}

// Publisher observes stage records as they are appended. Implementations
// must not block; the recorder calls them synchronously on the pipeline
// goroutine. Publishers are pure observers, never a control input.
type Publisher interface {
	Publish(queryID string, rec StageRecord)
}

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) Publish(string, StageRecord) {}

// KeyedPublisher republishes every record under a fixed key, regardless
// of which query produced it. Used to publish deduplicated runs under
// their shared fingerprint so every subscriber sees the stage events.
type KeyedPublisher struct {
	key   string
	inner Publisher
}

// NewKeyedPublisher wraps inner so all records are published under key.
func NewKeyedPublisher(key string, inner Publisher) *KeyedPublisher {
	return &KeyedPublisher{key: key, inner: inner}
}

func (p *KeyedPublisher) Publish(_ string, rec StageRecord) {
	p.inner.Publish(p.key, rec)
}

// ChanPublisher forwards records to a channel, dropping events when the
// receiver lags so a slow observer can never stall the pipeline.
type ChanPublisher struct {
	C chan StageRecord
}

// NewChanPublisher creates a buffered channel publisher.
func NewChanPublisher(buffer int) *ChanPublisher {
	return &ChanPublisher{C: make(chan StageRecord, buffer)}
}

func (p *ChanPublisher) Publish(_ string, rec StageRecord) {
	select {
	case p.C <- rec:
	default:
	}
}

// Recorder accumulates stage records for exactly one query. It is owned
// by that query's pipeline run; the mutex only guards against readers
// snapshotting while the pipeline appends.
type Recorder struct {
	mu        sync.Mutex
	queryID   string
	startedAt time.Time
	stages    []StageRecord
	publisher Publisher
}

// NewRecorder creates a recorder for the given query.
func NewRecorder(queryID string, pub Publisher) *Recorder {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &Recorder{
		queryID:   queryID,
		startedAt: time.Now().UTC(),
		publisher: pub,
	}
}

// Append adds a completed stage record and notifies the publisher.
// Records are appended in stage-execution order and never reordered.
func (r *Recorder) Append(rec StageRecord) {
	r.mu.Lock()
	r.stages = append(r.stages, rec)
	r.mu.Unlock()
	r.publisher.Publish(r.queryID, rec)
}

// Len returns the number of recorded stages.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stages)
}

// Finalize seals the trace with the winning method and total duration.
func (r *Recorder) Finalize(finalMethod string) *ExecutionTrace {
	r.mu.Lock()
	defer r.mu.Unlock()
	stages := make([]StageRecord, len(r.stages))
	copy(stages, r.stages)
	return &ExecutionTrace{
		QueryID:           r.queryID,
		Stages:            stages,
		StartedAt:         r.startedAt,
		TotalDuration:     time.Since(r.startedAt),
		FinalResultMethod: finalMethod,
	}
}

// Digest returns a short stable digest of the given text, used for the
// input/output fields of stage records.
func Digest(text string) string {
	if text == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:4])
}
