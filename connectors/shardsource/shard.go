// Package shardsource implements the coordinator side of a shard-based
// stream source: discovering the shard tree of a DynamoDB Streams change log
// or a Kinesis data stream, reconciling inconsistent listings, and assigning
// shards to subtasks in parent-before-child order.
package shardsource

import (
	"strconv"
	"strings"
	"time"
)

// StreamStatus mirrors the upstream stream lifecycle state returned by the
// listing API.
type StreamStatus int

const (
	StreamStatusEnabled StreamStatus = iota
	StreamStatusEnabling
	StreamStatusDisabling
	StreamStatusDisabled
)

func (s StreamStatus) String() string {
	switch s {
	case StreamStatusEnabling:
		return "ENABLING"
	case StreamStatusDisabling:
		return "DISABLING"
	case StreamStatusDisabled:
		return "DISABLED"
	default:
		return "ENABLED"
	}
}

type SequenceNumberRange struct {
	StartingSequenceNumber string
	// Nil while the shard is still open.
	EndingSequenceNumber *string
}

// Shard is one serial segment of the upstream change log. Shards form a
// forest: each shard has at most one parent and any number of children.
type Shard struct {
	ShardID             string
	ParentShardID       *string
	SequenceNumberRange SequenceNumberRange
}

// IsOpen reports whether the shard can still receive records.
func (s Shard) IsOpen() bool {
	return s.SequenceNumberRange.EndingSequenceNumber == nil
}

const shardIDPrefix = "shardId-"

// creationTimeSegmentLen is the width of the epoch-millis segment in DynamoDB
// Streams shard IDs, e.g. shardId-00000001405703045870-57eb1b10.
const creationTimeSegmentLen = 20

// CreationTime decodes the creation timestamp embedded in a DynamoDB Streams
// shard ID. Kinesis-style shard IDs carry no timestamp segment and report
// ok=false.
func CreationTime(shardID string) (t time.Time, ok bool) {
	rest, found := strings.CutPrefix(shardID, shardIDPrefix)
	if !found {
		return time.Time{}, false
	}
	segment, _, _ := strings.Cut(rest, "-")
	if len(segment) != creationTimeSegmentLen {
		return time.Time{}, false
	}
	millis, err := strconv.ParseInt(segment, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(millis), true
}

// AgeExceedsRetention reports whether the shard was created more than the
// retention period before now. Shard IDs without a decodable creation time
// never exceed retention.
func AgeExceedsRetention(shardID string, retention time.Duration, now time.Time) bool {
	created, ok := CreationTime(shardID)
	if !ok {
		return false
	}
	return now.Sub(created) > retention
}

// createdAfter reports whether the shard was created after the given anchor
// instant. Shard IDs without a decodable creation time are treated as
// predating any anchor.
func createdAfter(shardID string, anchor time.Time) bool {
	created, ok := CreationTime(shardID)
	if !ok {
		return false
	}
	return created.After(anchor)
}
