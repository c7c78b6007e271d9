package dynamodbstreams

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"shardline.dev/shardline/connectors/shardsource"
)

// Recognized configuration keys.
const (
	KeyInitialPosition        = "stream.initial-position"
	KeyInitialTimestamp       = "stream.initial-timestamp"
	KeyShardDiscoveryInterval = "shard-discovery.interval"
	KeyInconsistencyRetries   = "describe-stream.inconsistency-resolution.retry-count"
)

// SourceConfig contains configuration for the DynamoDB Streams source
// connector.
type SourceConfig struct {
	StreamARN string
	Endpoint  string
	Client    *Client

	// Where newly discovered shard lineages begin reading. Defaults to
	// LATEST.
	InitialPosition shardsource.InitialPosition
	// Used only with AT_TIMESTAMP.
	InitialTimestamp       time.Time
	ShardDiscoveryInterval time.Duration
	// Max anchored re-listings per discovery cycle.
	InconsistencyResolutionRetries int
	// Upstream shard retention; DynamoDB Streams retains shard data for 24
	// hours.
	Retention time.Duration
}

func (c SourceConfig) Validate() error {
	if c.StreamARN == "" {
		return fmt.Errorf("dynamodbstreams source requires a StreamARN")
	}
	if _, err := url.Parse(c.Endpoint); err != nil {
		return fmt.Errorf("invalid dynamodbstreams source endpoint: %s", c.Endpoint)
	}
	if c.InitialPosition == shardsource.InitialPositionAtTimestamp && c.InitialTimestamp.IsZero() {
		return fmt.Errorf("%s is required with AT_TIMESTAMP", KeyInitialTimestamp)
	}
	return nil
}

func (c SourceConfig) EnumeratorConfig() shardsource.EnumeratorConfig {
	return shardsource.EnumeratorConfig{
		InitialPosition:                c.InitialPosition,
		InitialTimestamp:               c.InitialTimestamp,
		ShardDiscoveryInterval:         c.ShardDiscoveryInterval,
		InconsistencyResolutionRetries: c.InconsistencyResolutionRetries,
		Retention:                      c.Retention,
	}
}

// NewStreamProxy returns the configured client or constructs one for the
// endpoint.
func (c SourceConfig) NewStreamProxy() (shardsource.StreamProxy, error) {
	if c.Client != nil {
		return c.Client, nil
	}
	return NewClient(&NewClientParams{Endpoint: c.Endpoint})
}

// SourceConfigFromKeys builds a SourceConfig from flat configuration keys,
// e.g. loaded from a job properties file.
func SourceConfigFromKeys(streamARN string, keys map[string]string) (SourceConfig, error) {
	config := SourceConfig{StreamARN: streamARN}

	pos, err := shardsource.ParseInitialPosition(keys[KeyInitialPosition])
	if err != nil {
		return SourceConfig{}, fmt.Errorf("%s: %w", KeyInitialPosition, err)
	}
	config.InitialPosition = pos

	if raw, ok := keys[KeyInitialTimestamp]; ok {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return SourceConfig{}, fmt.Errorf("%s must be an ISO-8601 instant: %w", KeyInitialTimestamp, err)
		}
		config.InitialTimestamp = ts
	}

	if raw, ok := keys[KeyShardDiscoveryInterval]; ok {
		interval, err := time.ParseDuration(raw)
		if err != nil {
			return SourceConfig{}, fmt.Errorf("%s: %w", KeyShardDiscoveryInterval, err)
		}
		config.ShardDiscoveryInterval = interval
	}

	if raw, ok := keys[KeyInconsistencyRetries]; ok {
		retries, err := strconv.Atoi(raw)
		if err != nil {
			return SourceConfig{}, fmt.Errorf("%s: %w", KeyInconsistencyRetries, err)
		}
		config.InconsistencyResolutionRetries = retries
	}

	return config, config.Validate()
}
