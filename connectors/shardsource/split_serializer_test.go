package shardsource_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
	"shardline.dev/shardline/connectors/shardsource"
	"shardline.dev/shardline/util/ptr"
)

func TestSplitSerializer_RoundTrip(t *testing.T) {
	serializer := shardsource.SplitSerializer{}

	splits := []shardsource.Split{
		shardsource.NewSplit(testStreamARN, openShard("shardId-001", nil), shardsource.FromStart()),
		shardsource.NewSplit(testStreamARN, openShard("shardId-002", ptr.New("shardId-001")), shardsource.Latest()),
		shardsource.NewSplit(testStreamARN, openShard("shardId-003", nil), shardsource.AfterSequenceNumber("49590338271490256608559692538361571095921575989136588898")),
		{
			StreamARN:        testStreamARN,
			ShardID:          "shardId-004",
			StartingPosition: shardsource.FromStart(),
			ParentShardID:    ptr.New("shardId-001"),
			Finished:         true,
			ChildSplits: []shardsource.Shard{
				closedShard("shardId-005", ptr.New("shardId-004")),
				openShard("shardId-006", ptr.New("shardId-004")),
			},
		},
	}

	for _, split := range splits {
		data, err := serializer.Serialize(split)
		require.NoError(t, err)

		got, err := serializer.Deserialize(serializer.Version(), data)
		require.NoError(t, err)
		assert.True(t, split.Equals(got), "round trip mismatch for %s: got %s", split, got)
	}
}

func TestSplitSerializer_UnknownVersion(t *testing.T) {
	serializer := shardsource.SplitSerializer{}
	split := shardsource.NewSplit(testStreamARN, openShard("shardId-001", nil), shardsource.FromStart())
	data, err := serializer.Serialize(split)
	require.NoError(t, err)

	_, err = serializer.Deserialize(3, data)
	var mismatch *shardsource.VersionMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 3, mismatch.Got)
}

// Older payloads omit trailing fields; deserialization fills defaults.
func TestSplitSerializer_ReadsOlderVersions(t *testing.T) {
	serializer := shardsource.SplitSerializer{}

	v0 := legacySplitPayload(t, testStreamARN, "shardId-002", "shardId-001", nil)
	split, err := serializer.Deserialize(0, v0)
	require.NoError(t, err)
	assert.Equal(t, "shardId-002", split.ShardID)
	require.NotNil(t, split.ParentShardID)
	assert.Equal(t, "shardId-001", *split.ParentShardID)
	assert.False(t, split.Finished, "v0 payloads default to unfinished")
	assert.Empty(t, split.ChildSplits, "v0 payloads default to no children")

	v1 := legacySplitPayload(t, testStreamARN, "shardId-002", "shardId-001", ptr.New(true))
	split, err = serializer.Deserialize(1, v1)
	require.NoError(t, err)
	assert.True(t, split.Finished)
	assert.Empty(t, split.ChildSplits)
}

func TestSplitSerializer_TruncatedPayload(t *testing.T) {
	serializer := shardsource.SplitSerializer{}
	split := shardsource.NewSplit(testStreamARN, openShard("shardId-001", nil), shardsource.FromStart())
	data, err := serializer.Serialize(split)
	require.NoError(t, err)

	_, err = serializer.Deserialize(serializer.Version(), data[:len(data)-1])
	assert.Error(t, err)
}

// The timestamp payload of AT_TIMESTAMP markers is not encoded; only the
// variant survives a round trip. This matches the layout of state written by
// every prior serializer version.
func TestSplitSerializer_AtTimestampDropsMarkerPayload(t *testing.T) {
	serializer := shardsource.SplitSerializer{}
	split := shardsource.NewSplit(
		testStreamARN,
		openShard("shardId-001", nil),
		shardsource.FromTimestamp(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)),
	)

	data, err := serializer.Serialize(split)
	require.NoError(t, err)
	got, err := serializer.Deserialize(serializer.Version(), data)
	require.NoError(t, err)

	assert.Equal(t, shardsource.IteratorTypeAtTimestamp, got.StartingPosition.Type)
	assert.True(t, got.StartingPosition.Timestamp.IsZero())
}

func TestSplitSerializer_RoundTripProperty(t *testing.T) {
	serializer := shardsource.SplitSerializer{}
	idGen := rapid.StringMatching(`shardId-[0-9a-f]{1,24}`)
	seqGen := rapid.StringMatching(`[0-9]{1,30}`)

	rapid.Check(t, func(t *rapid.T) {
		split := shardsource.Split{
			StreamARN: rapid.StringMatching(`arn:aws:[a-z]{1,10}:[a-z0-9-]{1,12}:[0-9]{12}:[a-zA-Z0-9/._-]{1,40}`).Draw(t, "arn"),
			ShardID:   idGen.Draw(t, "shardID"),
			Finished:  rapid.Bool().Draw(t, "finished"),
		}
		switch rapid.IntRange(0, 2).Draw(t, "posType") {
		case 0:
			split.StartingPosition = shardsource.FromStart()
		case 1:
			split.StartingPosition = shardsource.Latest()
		default:
			split.StartingPosition = shardsource.AfterSequenceNumber(seqGen.Draw(t, "seq"))
		}
		if rapid.Bool().Draw(t, "hasParent") {
			split.ParentShardID = ptr.New(idGen.Draw(t, "parentID"))
		}
		for range rapid.IntRange(0, 3).Draw(t, "childCount") {
			child := shardsource.Shard{
				ShardID:       idGen.Draw(t, "childID"),
				ParentShardID: ptr.New(split.ShardID),
				SequenceNumberRange: shardsource.SequenceNumberRange{
					StartingSequenceNumber: seqGen.Draw(t, "childStart"),
				},
			}
			if rapid.Bool().Draw(t, "childClosed") {
				child.SequenceNumberRange.EndingSequenceNumber = ptr.New(seqGen.Draw(t, "childEnd"))
			}
			split.ChildSplits = append(split.ChildSplits, child)
		}

		data, err := serializer.Serialize(split)
		if err != nil {
			t.Fatalf("serialize: %v", err)
		}
		got, err := serializer.Deserialize(serializer.Version(), data)
		if err != nil {
			t.Fatalf("deserialize: %v", err)
		}
		if !split.Equals(got) {
			t.Fatalf("round trip mismatch:\n  in:  %s\n  out: %s", split, got)
		}
	})
}

// legacySplitPayload builds the byte layout written by serializer versions 0
// and 1: UTF stream arn, UTF shard id, UTF iterator type, marker flags,
// parent flag + id, and for v1 the finished flag.
func legacySplitPayload(t *testing.T, streamARN, shardID, parentID string, finished *bool) []byte {
	t.Helper()
	var buf []byte
	writeUTF := func(s string) {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
		buf = append(buf, s...)
	}
	writeBool := func(b bool) {
		if b {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}

	writeUTF(streamARN)
	writeUTF(shardID)
	writeUTF(string(shardsource.IteratorTypeTrimHorizon))
	writeBool(false) // no starting marker
	writeBool(true)  // has parent
	writeUTF(parentID)
	if finished != nil {
		writeBool(*finished)
	}
	return buf
}
