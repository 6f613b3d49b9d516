package types

import "time"

// PrecomputeJob represents the SQS payload sent from the API to the almanac
// worker. It requests eager location of all solar-term nodes for a range of
// years so that later conversions hit the persisted almanac instead of the
// root-finder. JSON tags use snake_case on the wire.
type PrecomputeJob struct {
	// Core Identity
	JobID string `json:"job_id"`

	// Inclusive year range to compute.
	FromYear int `json:"from_year"`
	ToYear   int `json:"to_year"`

	// RequestedAt is set by the enqueuer; used for queue-lag observability.
	RequestedAt time.Time `json:"requested_at"`

	// Observability
	TraceID string `json:"trace_id"`
}

// Validate implements the Validator interface for PrecomputeJob. It checks
// the job's shape only; policy limits such as the maximum year span are
// enforced by the worker configuration.
func (j PrecomputeJob) Validate() error {
	if j.FromYear == 0 || j.ToYear == 0 {
		return NewAppError(ErrCodeValidationInvalidYear,
			"precompute job requires from_year and to_year", nil)
	}
	if j.ToYear < j.FromYear {
		return NewAppErrorWithDetails(ErrCodeValidationInvalidYear,
			"to_year must not precede from_year", nil,
			map[string]any{"from_year": j.FromYear, "to_year": j.ToYear})
	}
	return nil
}
