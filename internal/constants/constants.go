package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixUpload       = "upload:"
	CacheKeyPrefixFlightConfig = "flightcfg:"
)

const (
	DefaultInputTopic  = "habitat_uploads"
	DefaultOutputTopic = "habitat_telemetry"
)

const (
	DefaultMongoDBName = "habitat"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultTTLSeconds = 600
)

const (
	DefaultMaxConflictRetries = 30
)

const (
	FallbackAllow  = "allow"
	FallbackReject = "reject"
	FallbackError  = "fail"
)

const (
	SinkParser  = "parser"
	SinkArchive = "archive"
	SinkFeed    = "feed"
	SinkKafka   = "kafka_publisher"
)

const (
	ServiceName = "habitat"
)
