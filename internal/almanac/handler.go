package almanac

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"chronos/internal/types"
)

// Handler is the worker entrypoint. It accepts two payload formats: an SQS
// event carrying precompute jobs in its record bodies, and a bare precompute
// job JSON for manual or local invocation.
func (a *Almanac) Handler(ctx context.Context, payload json.RawMessage) error {
	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(payload, &sqsEvent); err == nil && len(sqsEvent.Records) > 0 {
		return a.handleSQSEvent(ctx, sqsEvent)
	}

	var job types.PrecomputeJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("almanac: payload is neither an SQS event nor a precompute job: %w", err)
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("almanac: manual job rejected: %w", err)
	}
	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}

	a.Log.InfoContext(ctx, "Processing manual precompute job",
		"job_id", job.JobID,
		"from_year", job.FromYear,
		"to_year", job.ToYear,
	)
	return a.ProcessJob(ctx, job)
}

// handleSQSEvent processes every record of the event in order. A malformed
// body is a hard error: the batch is redelivered and eventually lands in the
// dead-letter queue, which is where unparseable jobs belong.
func (a *Almanac) handleSQSEvent(ctx context.Context, sqsEvent events.SQSEvent) error {
	for _, record := range sqsEvent.Records {
		var job types.PrecomputeJob
		if err := json.Unmarshal([]byte(record.Body), &job); err != nil {
			return fmt.Errorf("almanac: message %s: malformed precompute job: %w", record.MessageId, err)
		}

		a.Log.InfoContext(ctx, "Processing queued precompute job",
			"job_id", job.JobID,
			"message_id", record.MessageId,
			"from_year", job.FromYear,
			"to_year", job.ToYear,
		)
		if err := a.ProcessJob(ctx, job); err != nil {
			return err
		}
	}
	return nil
}
