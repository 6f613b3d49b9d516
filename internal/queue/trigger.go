// Package queue provides the SQS producer that dispatches almanac precompute
// jobs to the background worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"chronos/internal/config"
	"chronos/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// AlmanacTrigger enqueues PrecomputeJob messages for the almanac worker.
// Enqueueing is disabled when no queue URL is configured; callers get an
// error instead of a silently dropped job.
type AlmanacTrigger struct {
	client   SQSSender
	queueURL string
	clock    types.Clock
	logger   *slog.Logger
}

// NewAlmanacTrigger creates a new AlmanacTrigger with the given SQS client
// and configuration. The queue URL comes from AWSConfig.
func NewAlmanacTrigger(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *AlmanacTrigger {
	return &AlmanacTrigger{
		client:   client,
		queueURL: awsCfg.AlmanacQueueURL,
		clock:    types.RealClock{},
		logger:   logger,
	}
}

// SetClock overrides the clock used to stamp jobs, for testing.
func (t *AlmanacTrigger) SetClock(c types.Clock) {
	t.clock = c
}

// EnqueuePrecompute builds a PrecomputeJob for the year range, sends it to
// the almanac queue, and returns the job so callers can report its ID. The
// reason string travels as a message attribute for queue-side observability.
//
// The year range is assumed validated; this method is transport only.
func (t *AlmanacTrigger) EnqueuePrecompute(ctx context.Context, fromYear, toYear int, reason string) (types.PrecomputeJob, error) {
	job := types.PrecomputeJob{
		JobID:       fmt.Sprintf("almanac_%s", uuid.New().String()),
		FromYear:    fromYear,
		ToYear:      toYear,
		RequestedAt: t.clock.Now(),
		TraceID:     uuid.New().String(),
	}

	if t.queueURL == "" {
		return types.PrecomputeJob{}, types.NewAppError(types.ErrCodeInternalQueue,
			"almanac precompute queue is not configured", nil)
	}

	body, err := json.Marshal(job)
	if err != nil {
		return types.PrecomputeJob{}, types.NewAppError(types.ErrCodeInternalQueue,
			"failed to marshal precompute job", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(t.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
			"trace_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(job.TraceID),
			},
		},
	}

	if _, err := t.client.SendMessage(ctx, input); err != nil {
		return types.PrecomputeJob{}, types.NewAppError(types.ErrCodeInternalQueue,
			fmt.Sprintf("failed to enqueue precompute job to %s", t.queueURL), err)
	}

	t.logger.InfoContext(ctx, "precompute job enqueued",
		"queue_url", t.queueURL,
		"job_id", job.JobID,
		"trace_id", job.TraceID,
		"from_year", fromYear,
		"to_year", toYear,
		"reason", reason,
	)

	return job, nil
}
