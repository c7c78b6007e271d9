package shardsource_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"shardline.dev/shardline/connectors/shardsource"
	"shardline.dev/shardline/util/ptr"
)

func TestEnumeratorStateSerializer_RoundTrip(t *testing.T) {
	serializer := shardsource.EnumeratorStateSerializer{}

	state := shardsource.EnumeratorState{
		StartTimestamp: time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
		KnownSplits: []shardsource.SplitWithStatus{
			{
				Split:  shardsource.NewSplit(testStreamARN, closedShard("shardId-001", nil), shardsource.FromStart()),
				Status: shardsource.SplitStatusFinished,
			},
			{
				Split:  shardsource.NewSplit(testStreamARN, openShard("shardId-002", ptr.New("shardId-001")), shardsource.FromStart()),
				Status: shardsource.SplitStatusAssigned,
			},
			{
				Split:  shardsource.NewSplit(testStreamARN, openShard("shardId-003", nil), shardsource.Latest()),
				Status: shardsource.SplitStatusUnassigned,
			},
		},
	}

	data, err := serializer.Serialize(state)
	require.NoError(t, err)

	got, err := serializer.Deserialize(serializer.Version(), data)
	require.NoError(t, err)

	assert.True(t, got.StartTimestamp.Equal(state.StartTimestamp))
	require.Len(t, got.KnownSplits, 3)
	for i := range state.KnownSplits {
		assert.Equal(t, state.KnownSplits[i].Status, got.KnownSplits[i].Status)
		assert.True(t, state.KnownSplits[i].Split.Equals(got.KnownSplits[i].Split))
	}
}

func TestEnumeratorStateSerializer_EmptyState(t *testing.T) {
	serializer := shardsource.EnumeratorStateSerializer{}
	state := shardsource.EnumeratorState{StartTimestamp: time.UnixMilli(1714567800000)}

	data, err := serializer.Serialize(state)
	require.NoError(t, err)
	got, err := serializer.Deserialize(serializer.Version(), data)
	require.NoError(t, err)

	assert.Empty(t, got.KnownSplits)
	assert.True(t, got.StartTimestamp.Equal(state.StartTimestamp))
}

func TestEnumeratorStateSerializer_AcceptsPriorVersion(t *testing.T) {
	serializer := shardsource.EnumeratorStateSerializer{}
	state := shardsource.EnumeratorState{
		StartTimestamp: time.UnixMilli(1714567800000),
		KnownSplits: []shardsource.SplitWithStatus{{
			Split:  shardsource.NewSplit(testStreamARN, openShard("shardId-001", nil), shardsource.FromStart()),
			Status: shardsource.SplitStatusUnassigned,
		}},
	}

	data, err := serializer.Serialize(state)
	require.NoError(t, err)

	// Version 0 shares the layout; readers of version N accept state written
	// by versions <= N.
	got, err := serializer.Deserialize(0, data)
	require.NoError(t, err)
	require.Len(t, got.KnownSplits, 1)
}

func TestSerializeEnumeratorState_VersionPrefixedRoundTrip(t *testing.T) {
	state := shardsource.EnumeratorState{
		StartTimestamp: time.UnixMilli(1714567800000),
		KnownSplits: []shardsource.SplitWithStatus{{
			Split:  shardsource.NewSplit(testStreamARN, openShard("shardId-001", nil), shardsource.Latest()),
			Status: shardsource.SplitStatusAssigned,
		}},
	}

	data, err := shardsource.SerializeEnumeratorState(state)
	require.NoError(t, err)

	got, err := shardsource.DeserializeEnumeratorState(data)
	require.NoError(t, err)
	require.Len(t, got.KnownSplits, 1)
	assert.Equal(t, shardsource.SplitStatusAssigned, got.KnownSplits[0].Status)

	_, err = shardsource.DeserializeEnumeratorState(data[:2])
	assert.Error(t, err, "missing version header")
}

func TestEnumeratorStateSerializer_UnknownVersion(t *testing.T) {
	serializer := shardsource.EnumeratorStateSerializer{}
	data, err := serializer.Serialize(shardsource.EnumeratorState{StartTimestamp: time.UnixMilli(0)})
	require.NoError(t, err)

	_, err = serializer.Deserialize(9, data)
	var mismatch *shardsource.VersionMismatchError
	assert.ErrorAs(t, err, &mismatch)
}
