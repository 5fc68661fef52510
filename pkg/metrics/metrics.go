package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	BusMessagesPushedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_pushed_total",
			Help: "Total number of messages offered to the message bus (count)",
		},
		[]string{"type", "status"},
	)

	BusMessagesDeliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_delivered_total",
			Help: "Total number of messages handed to the loaded sinks (count)",
		},
		[]string{"type"},
	)

	BusDeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bus_delivery_duration_ms",
			Help:    "Time spent delivering one message to every loaded sink in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"type"},
	)

	BusQueueSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bus_queue_size",
			Help: "Approximate number of messages waiting for delivery (count)",
		},
	)

	BusSinksLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bus_sinks_loaded",
			Help: "Number of sinks currently loaded (count)",
		},
	)

	BusSinkOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_sink_operations_total",
			Help: "Total number of sink load, unload and reload operations (count)",
		},
		[]string{"sink", "operation", "status"},
	)

	SinkQueueSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sink_queue_size",
			Help: "Number of messages waiting in a threaded sink queue (count)",
		},
		[]string{"sink"},
	)

	ParserMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parser_messages_total",
			Help: "Total number of raw telemetry messages processed by the parser (count)",
		},
		[]string{"status"},
	)

	ParserProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parser_processing_duration_ms",
			Help:    "Processing duration for the parser in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"status"},
	)

	ParserModuleAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parser_module_attempts_total",
			Help: "Total number of protocol module attempts by outcome (count)",
		},
		[]string{"module", "pass", "outcome"},
	)

	FilterApplicationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filter_applications_total",
			Help: "Total number of filter applications (count)",
		},
		[]string{"stage", "filter_type", "status"},
	)

	HotfixVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotfix_verifications_total",
			Help: "Total number of hotfix signature verifications (count)",
		},
		[]string{"method", "result"},
	)

	FlightConfigLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flight_config_lookups_total",
			Help: "Total number of per-callsign configuration lookups (count)",
		},
		[]string{"source", "result"},
	)

	ArchiveWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_writes_total",
			Help: "Total number of archive writes (count)",
		},
		[]string{"type", "status"},
	)

	ArchiveConflictRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_conflict_retries_total",
			Help: "Total number of archive writes retried after a revision conflict (count)",
		},
		[]string{"type"},
	)

	DeduplicateMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_messages_total",
			Help: "Total number of uploads checked for duplicates (count)",
		},
		[]string{"status"},
	)

	DedupProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dedup_processing_duration_ms",
			Help:    "Processing duration for duplicate upload checks in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"status"},
	)

	IngestionUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestion_uploads_total",
			Help: "Total number of uploads received from outside the process (count)",
		},
		[]string{"source", "status"},
	)

	FeedClientsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "feed_clients_connected",
			Help: "Number of websocket clients subscribed to the telemetry feed (count)",
		},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"service", "strategy", "reason"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_message_size_bytes",
			Help:    "Size of Kafka messages in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"service", "topic", "direction"},
	)

	KafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag (difference between latest offset and committed offset) (count)",
		},
		[]string{"service", "topic", "partition"},
	)

	KafkaReadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_read_duration_ms",
			Help:    "Duration of reading messages from Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"service", "database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"service", "database", "operation"},
	)
)

var fallbackOnce sync.Once

func RegisterBusMetrics() {
	prometheus.MustRegister(BusMessagesPushedTotal)
	prometheus.MustRegister(BusMessagesDeliveredTotal)
	prometheus.MustRegister(BusDeliveryDuration)
	prometheus.MustRegister(BusQueueSize)
	prometheus.MustRegister(BusSinksLoaded)
	prometheus.MustRegister(BusSinkOperationsTotal)
	prometheus.MustRegister(SinkQueueSize)
}

func RegisterParserMetrics() {
	prometheus.MustRegister(ParserMessagesTotal)
	prometheus.MustRegister(ParserProcessingDuration)
	prometheus.MustRegister(ParserModuleAttemptsTotal)
	prometheus.MustRegister(FilterApplicationsTotal)
	prometheus.MustRegister(HotfixVerificationsTotal)
	prometheus.MustRegister(FlightConfigLookupsTotal)
	registerFallbackUsageTotalOnce()
}

func RegisterArchiveMetrics() {
	prometheus.MustRegister(ArchiveWritesTotal)
	prometheus.MustRegister(ArchiveConflictRetriesTotal)
	prometheus.MustRegister(DatabaseQueriesTotal)
	prometheus.MustRegister(DatabaseQueryDuration)
}

func RegisterDedupMetrics() {
	prometheus.MustRegister(DeduplicateMessagesTotal)
	prometheus.MustRegister(DedupProcessingDuration)
	registerFallbackUsageTotalOnce()
}

func RegisterGatewayMetrics() {
	prometheus.MustRegister(IngestionUploadsTotal)
	prometheus.MustRegister(RateLimitRequestsTotal)
	prometheus.MustRegister(FeedClientsConnected)
}

func registerFallbackUsageTotalOnce() {
	fallbackOnce.Do(func() {
		prometheus.MustRegister(FallbackUsageTotal)
	})
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(DLQMessagesTotal)
	prometheus.MustRegister(KafkaMessagesReadTotal)
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
	prometheus.MustRegister(KafkaMessageSizeBytes)
	prometheus.MustRegister(KafkaConsumerLag)
	prometheus.MustRegister(KafkaReadDuration)
	prometheus.MustRegister(KafkaWriteDuration)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func ObserveBusDelivery(kind string, duration time.Duration) {
	BusMessagesDeliveredTotal.WithLabelValues(kind).Inc()
	BusDeliveryDuration.WithLabelValues(kind).Observe(float64(duration.Milliseconds()))
}

func IncSinkOperation(sink, operation, status string) {
	BusSinkOperationsTotal.WithLabelValues(sink, operation, status).Inc()
}

func SetSinkQueueSize(sink string, size int) {
	SinkQueueSize.WithLabelValues(sink).Set(float64(size))
}

func ObserveParserDuration(duration time.Duration, status string) {
	ParserProcessingDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func IncParserModuleAttempt(module, pass, outcome string) {
	ParserModuleAttemptsTotal.WithLabelValues(module, pass, outcome).Inc()
}

func IncFilterApplication(stage, filterType, status string) {
	FilterApplicationsTotal.WithLabelValues(stage, filterType, status).Inc()
}

func IncHotfixVerification(method, result string) {
	HotfixVerificationsTotal.WithLabelValues(method, result).Inc()
}

func IncFlightConfigLookup(source, result string) {
	FlightConfigLookupsTotal.WithLabelValues(source, result).Inc()
}

func IncArchiveWrite(kind, status string) {
	ArchiveWritesTotal.WithLabelValues(kind, status).Inc()
}

func ObserveDedupDuration(duration time.Duration, status string) {
	DedupProcessingDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaMessageSize(service, topic, direction string, sizeBytes int) {
	KafkaMessageSizeBytes.WithLabelValues(service, topic, direction).Observe(float64(sizeBytes))
}

func SetKafkaConsumerLag(service, topic string, partition int, lag int64) {
	KafkaConsumerLag.WithLabelValues(service, topic, fmt.Sprintf("%d", partition)).Set(float64(lag))
}

func ObserveKafkaReadDuration(service, topic string, duration time.Duration) {
	KafkaReadDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func IncDatabaseQuery(service, database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(service, database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(service, database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(service, database, operation).Observe(float64(duration.Milliseconds()))
}
