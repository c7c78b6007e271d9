package shardsource_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"shardline.dev/shardline/connectors/shardsource"
	"shardline.dev/shardline/util/ptr"
)

// ddbShardID builds a DynamoDB Streams style shard id whose creation time
// segment encodes the given instant.
func ddbShardID(created time.Time, suffix string) string {
	return fmt.Sprintf("shardId-%020d-%s", created.UnixMilli(), suffix)
}

func openShard(id string, parentID *string) shardsource.Shard {
	return shardsource.Shard{
		ShardID:       id,
		ParentShardID: parentID,
		SequenceNumberRange: shardsource.SequenceNumberRange{
			StartingSequenceNumber: "100",
		},
	}
}

func closedShard(id string, parentID *string) shardsource.Shard {
	return shardsource.Shard{
		ShardID:       id,
		ParentShardID: parentID,
		SequenceNumberRange: shardsource.SequenceNumberRange{
			StartingSequenceNumber: "100",
			EndingSequenceNumber:   ptr.New("200"),
		},
	}
}

func TestCreationTime(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	got, ok := shardsource.CreationTime(ddbShardID(created, "57eb1b10"))
	assert.True(t, ok)
	assert.True(t, got.Equal(created))
}

func TestCreationTime_KinesisStyleIDsHaveNone(t *testing.T) {
	_, ok := shardsource.CreationTime("shardId-000000000001")
	assert.False(t, ok)

	_, ok = shardsource.CreationTime("not-a-shard-id")
	assert.False(t, ok)
}

func TestAgeExceedsRetention(t *testing.T) {
	now := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
	retention := 24 * time.Hour

	fresh := ddbShardID(now.Add(-time.Hour), "aa")
	stale := ddbShardID(now.Add(-25*time.Hour), "bb")

	assert.False(t, shardsource.AgeExceedsRetention(fresh, retention, now))
	assert.True(t, shardsource.AgeExceedsRetention(stale, retention, now))

	// IDs without a creation time never age out
	assert.False(t, shardsource.AgeExceedsRetention("shardId-000000000001", retention, now))
}

func TestShardIsOpen(t *testing.T) {
	assert.True(t, openShard("shardId-1", nil).IsOpen())
	assert.False(t, closedShard("shardId-1", nil).IsOpen())
}
