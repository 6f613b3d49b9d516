package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricConversionCount   = "ConversionCount"
	MetricConversionLatency = "ConversionLatency"
	MetricBatchSize         = "BatchSize"
	MetricBatchFailures     = "BatchFailures"
	MetricTermLookup        = "TermLookup"
	MetricTermCacheHit      = "TermCacheHit"
	MetricAlmanacYearsDone  = "AlmanacYearsComputed"
	MetricAlmanacNodes      = "AlmanacTermsStored"
	MetricAPILatency        = "APILatency"
	MetricAPIRequestCount   = "APIRequestCount"

	// Dimension Keys
	DimOutcome   = "Outcome"
	DimProvider  = "Provider"
	DimEndpoint  = "Endpoint"
	DimMethod    = "Method"
	DimStatus    = "Status"
	DimJobType   = "JobType"

	// Metric Namespace
	MetricNamespace = "Chronos"
)
