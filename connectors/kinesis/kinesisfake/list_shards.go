package kinesisfake

import (
	"encoding/json"
	"fmt"
	"slices"
)

type ListShardsRequest struct {
	ExclusiveStartShardId string
	MaxResults            int64
	NextToken             string
	StreamARN             string
	StreamName            string
}

type ListShardsResponse struct {
	NextToken *string
	Shards    []Shard
}

type HashKeyRange struct {
	StartingHashKey string
	EndingHashKey   string
}

type SequenceNumberRange struct {
	StartingSequenceNumber string
	EndingSequenceNumber   string `json:",omitempty"`
}

type Shard struct {
	ShardId             string
	ParentShardId       string `json:",omitempty"`
	HashKeyRange        HashKeyRange
	SequenceNumberRange SequenceNumberRange
}

func (f *Fake) listShards(body []byte) (*ListShardsResponse, error) {
	var request ListShardsRequest
	if err := json.Unmarshal(body, &request); err != nil {
		return nil, fmt.Errorf("decode ListShardsRequest: %w", err)
	}

	stream, err := f.streamByNameOrARN(request.StreamName, request.StreamARN)
	if err != nil {
		return nil, err
	}

	// Find the starting index based on ExclusiveStartShardId or NextToken
	startIdx := 0
	if request.ExclusiveStartShardId != "" {
		foundShardID := slices.IndexFunc(stream.shards, func(s *shard) bool {
			return s.id == request.ExclusiveStartShardId
		})
		if foundShardID == -1 {
			return nil, fmt.Errorf("exclusive start shard %s not found", request.ExclusiveStartShardId)
		}
		startIdx = foundShardID + 1
	} else if request.NextToken != "" {
		// NextToken is just the stringified start index
		fmt.Sscanf(request.NextToken, "%d", &startIdx)
	}

	// Determine how many shards to return
	maxResults := int(request.MaxResults)
	if maxResults <= 0 || maxResults > len(stream.shards)-startIdx {
		maxResults = len(stream.shards) - startIdx
	}

	endIdx := min(startIdx+maxResults, len(stream.shards))

	var nextToken *string
	if endIdx < len(stream.shards) {
		tok := fmt.Sprintf("%d", endIdx)
		nextToken = &tok
	}

	return &ListShardsResponse{
		Shards:    shardsToResponse(stream.shards[startIdx:endIdx]),
		NextToken: nextToken,
	}, nil
}

func shardsToResponse(shards []*shard) []Shard {
	out := make([]Shard, len(shards))
	for i, sh := range shards {
		out[i] = Shard{
			ShardId:       sh.id,
			ParentShardId: sh.parentShard,
			HashKeyRange: HashKeyRange{
				StartingHashKey: sh.hashKeyRange.startingHashKey.String(),
				EndingHashKey:   sh.hashKeyRange.endingHashKey.String(),
			},
			SequenceNumberRange: SequenceNumberRange{
				StartingSequenceNumber: sh.startSeq,
				EndingSequenceNumber:   sh.endSeq,
			},
		}
	}
	return out
}
