package kinesis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TempStream provides helpers for creating, interacting with, then deleting
// Kinesis streams. It's used for testing.
type TempStream struct {
	StreamName string
	StreamARN  string
	ShardIDs   []string
	Client     *Client
}

var tempStreamID = 0

var tempStreamMaxWaitDuration = 30 * time.Second

func CreateTempStream(t *testing.T, client *Client, shardCount int) *TempStream {
	streamName := fmt.Sprintf("temp-stream-%d", tempStreamID)
	tempStreamID++

	streamARN, err := client.CreateStream(context.Background(), &CreateStreamParams{
		StreamName:      streamName,
		ShardCount:      shardCount,
		MaxWaitDuration: tempStreamMaxWaitDuration,
	})
	require.NoError(t, err, "create stream")

	shards, err := client.ListShards(context.Background(), streamARN, nil)
	require.NoError(t, err, "list shards")

	shardIDs := make([]string, len(shards))
	for i, shard := range shards {
		shardIDs[i] = *shard.ShardId
	}

	return &TempStream{
		StreamName: streamName,
		StreamARN:  streamARN,
		ShardIDs:   shardIDs,
		Client:     client,
	}
}

func (s *TempStream) Delete(t *testing.T) {
	err := s.Client.DeleteStream(t.Context(), &DeleteStreamParams{
		StreamName:      s.StreamName,
		MaxWaitDuration: tempStreamMaxWaitDuration,
	})
	require.NoError(t, err, "delete stream")
}

func (s *TempStream) SplitShard(t *testing.T, shardID string, newHashKey string) {
	err := s.Client.SplitShard(t.Context(), s.StreamARN, shardID, newHashKey)
	require.NoError(t, err, "split shard")
}
