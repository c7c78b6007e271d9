package shardsource

import (
	"fmt"
	"time"
)

// ShardIteratorType names where a reader subscribes within a shard. The
// values match the upstream API enum so they can be passed through to
// GetShardIterator calls.
type ShardIteratorType string

const (
	IteratorTypeTrimHorizon         ShardIteratorType = "TRIM_HORIZON"
	IteratorTypeLatest              ShardIteratorType = "LATEST"
	IteratorTypeAtTimestamp         ShardIteratorType = "AT_TIMESTAMP"
	IteratorTypeAfterSequenceNumber ShardIteratorType = "AFTER_SEQUENCE_NUMBER"
)

// StartingPosition is a closed sum over the places a reader can begin within
// a shard. The zero value is not valid; use the constructors.
type StartingPosition struct {
	Type ShardIteratorType
	// Set only for AT_TIMESTAMP positions.
	Timestamp time.Time
	// Set only for AFTER_SEQUENCE_NUMBER positions.
	SequenceNumber string
}

// FromStart reads a shard from its oldest available record.
func FromStart() StartingPosition {
	return StartingPosition{Type: IteratorTypeTrimHorizon}
}

// Latest reads only records arriving after subscription.
func Latest() StartingPosition {
	return StartingPosition{Type: IteratorTypeLatest}
}

// FromTimestamp reads from the first record at or after t.
func FromTimestamp(t time.Time) StartingPosition {
	return StartingPosition{Type: IteratorTypeAtTimestamp, Timestamp: t}
}

// AfterSequenceNumber resumes reading after a previously seen record.
func AfterSequenceNumber(seq string) StartingPosition {
	return StartingPosition{Type: IteratorTypeAfterSequenceNumber, SequenceNumber: seq}
}

// Equals compares the variant tag and its payload.
func (p StartingPosition) Equals(other StartingPosition) bool {
	return p.Type == other.Type &&
		p.Timestamp.Equal(other.Timestamp) &&
		p.SequenceNumber == other.SequenceNumber
}

func (p StartingPosition) String() string {
	switch p.Type {
	case IteratorTypeAtTimestamp:
		return fmt.Sprintf("%s(%s)", p.Type, p.Timestamp.UTC().Format(time.RFC3339))
	case IteratorTypeAfterSequenceNumber:
		return fmt.Sprintf("%s(%s)", p.Type, p.SequenceNumber)
	default:
		return string(p.Type)
	}
}

// InitialPosition is the configured policy for where newly discovered shard
// lineages begin reading.
type InitialPosition int

const (
	InitialPositionLatest InitialPosition = iota
	InitialPositionTrimHorizon
	InitialPositionAtTimestamp
)

func (p InitialPosition) String() string {
	switch p {
	case InitialPositionTrimHorizon:
		return "TRIM_HORIZON"
	case InitialPositionAtTimestamp:
		return "AT_TIMESTAMP"
	default:
		return "LATEST"
	}
}

// ParseInitialPosition parses the stream.initial-position configuration
// value.
func ParseInitialPosition(s string) (InitialPosition, error) {
	switch s {
	case "LATEST", "":
		return InitialPositionLatest, nil
	case "TRIM_HORIZON":
		return InitialPositionTrimHorizon, nil
	case "AT_TIMESTAMP":
		return InitialPositionAtTimestamp, nil
	default:
		return 0, fmt.Errorf("unknown initial position %q", s)
	}
}
