package resilience

import (
	"time"

	"github.com/brandtrace/ownership-cli/internal/model"
)

// DeadLetter records a query that failed during batch resolution so it
// can be replayed later.
type DeadLetter struct {
	ID           string               `json:"id"`
	Query        model.OwnershipQuery `json:"query"`
	Error        string               `json:"error"`
	ErrorClass   string               `json:"error_class"` // "transient" or "permanent"
	RetryCount   int                  `json:"retry_count"`
	MaxRetries   int                  `json:"max_retries"`
	CreatedAt    time.Time            `json:"created_at"`
	LastFailedAt time.Time            `json:"last_failed_at"`
}

// CanRetry reports whether this entry has retry budget left.
func (d *DeadLetter) CanRetry() bool {
	return d.RetryCount < d.MaxRetries
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
