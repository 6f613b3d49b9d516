// Package metrics publishes service telemetry to AWS CloudWatch.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"chronos/internal/config"
	"chronos/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Publisher emits conversion, almanac, and API request telemetry to
// CloudWatch. Metric and dimension names come from the types package so every
// component reports under the same vocabulary.
//
// Hot-path methods are best effort: a failed put is logged and swallowed so
// telemetry never breaks a conversion. PublishJobStats returns its error
// because the almanac worker logs it with job context.
type Publisher struct {
	client    CloudWatchClient
	namespace string
	disabled  bool
	logger    types.Logger
}

// NewPublisher creates a Publisher for the configured namespace. An empty
// namespace falls back to types.MetricNamespace. When metrics are disabled
// by configuration every publish becomes a no-op, so callers never need a
// conditional around the wiring.
func NewPublisher(client CloudWatchClient, cfg config.MetricsConfig, logger types.Logger) *Publisher {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &Publisher{
		client:    client,
		namespace: namespace,
		disabled:  !cfg.Enabled,
		logger:    logger,
	}
}

// RecordConversion emits a count and a latency datum for one conversion,
// both dimensioned by outcome ("success" or the error code).
func (p *Publisher) RecordConversion(ctx context.Context, outcome string, elapsed time.Duration) {
	dims := []cwtypes.Dimension{
		{
			Name:  aws.String(types.DimOutcome),
			Value: aws.String(outcome),
		},
	}

	p.put(ctx, "conversion", []cwtypes.MetricDatum{
		{
			MetricName: aws.String(types.MetricConversionCount),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
		{
			MetricName: aws.String(types.MetricConversionLatency),
			Value:      aws.Float64(durationMillis(elapsed)),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims,
		},
	})
}

// RecordBatch emits the size of a batch request and how many of its items
// failed.
func (p *Publisher) RecordBatch(ctx context.Context, size, failures int) {
	p.put(ctx, "batch", []cwtypes.MetricDatum{
		{
			MetricName: aws.String(types.MetricBatchSize),
			Value:      aws.Float64(float64(size)),
			Unit:       cwtypes.StandardUnitCount,
		},
		{
			MetricName: aws.String(types.MetricBatchFailures),
			Value:      aws.Float64(float64(failures)),
			Unit:       cwtypes.StandardUnitCount,
		},
	})
}

// RecordTermLookup counts a terms read; store hits additionally emit a cache
// hit datum so the hit ratio is a simple metric-math quotient.
func (p *Publisher) RecordTermLookup(ctx context.Context, storeHit bool) {
	data := []cwtypes.MetricDatum{
		{
			MetricName: aws.String(types.MetricTermLookup),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
		},
	}
	if storeHit {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricTermCacheHit),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
		})
	}
	p.put(ctx, "term lookup", data)
}

// PublishJobStats records the years processed and nodes inserted by one
// precompute job run.
func (p *Publisher) PublishJobStats(ctx context.Context, years, nodes int) error {
	if p.disabled {
		return nil
	}

	dims := []cwtypes.Dimension{
		{
			Name:  aws.String(types.DimJobType),
			Value: aws.String("precompute"),
		},
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricAlmanacYearsDone),
				Value:      aws.Float64(float64(years)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
			{
				MetricName: aws.String(types.MetricAlmanacNodes),
				Value:      aws.Float64(float64(nodes)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
		},
	}

	if _, err := p.client.PutMetricData(ctx, input); err != nil {
		return fmt.Errorf("metrics: publish job stats: %w", err)
	}
	return nil
}

// RecordRequest records API request latency and count. The signature matches
// the core chassis collector, which carries no context; puts run under the
// background context.
func (p *Publisher) RecordRequest(method, endpoint, status string, duration time.Duration) {
	routeDims := []cwtypes.Dimension{
		{
			Name:  aws.String(types.DimMethod),
			Value: aws.String(method),
		},
		{
			Name:  aws.String(types.DimEndpoint),
			Value: aws.String(endpoint),
		},
	}
	countDims := append(routeDims, cwtypes.Dimension{
		Name:  aws.String(types.DimStatus),
		Value: aws.String(status),
	})

	p.put(context.Background(), "api request", []cwtypes.MetricDatum{
		{
			MetricName: aws.String(types.MetricAPILatency),
			Value:      aws.Float64(durationMillis(duration)),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: routeDims,
		},
		{
			MetricName: aws.String(types.MetricAPIRequestCount),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: countDims,
		},
	})
}

// put publishes one PutMetricData call, logging and swallowing failures.
func (p *Publisher) put(ctx context.Context, what string, data []cwtypes.MetricDatum) {
	if p.disabled {
		return
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(p.namespace),
		MetricData: data,
	}
	if _, err := p.client.PutMetricData(ctx, input); err != nil {
		p.logger.Error("failed to publish metrics",
			"group", what,
			"error", err.Error(),
		)
	}
}

// durationMillis converts a duration to fractional milliseconds. Conversions
// finish well under a millisecond, so integer truncation would flatten the
// latency series to zero.
func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
