package ddbstreamsfake

import (
	"encoding/json"
	"fmt"
	"slices"
)

type DescribeStreamRequest struct {
	StreamArn             string
	ExclusiveStartShardId string
	Limit                 int
}

type DescribeStreamResponse struct {
	StreamDescription StreamDescription
}

type StreamDescription struct {
	StreamArn            string
	StreamStatus         string
	Shards               []Shard
	LastEvaluatedShardId *string
}

type SequenceNumberRange struct {
	StartingSequenceNumber string
	EndingSequenceNumber   string `json:",omitempty"`
}

type Shard struct {
	ShardId             string
	ParentShardId       string `json:",omitempty"`
	SequenceNumberRange SequenceNumberRange
}

func (f *Fake) describeStream(body []byte) (*DescribeStreamResponse, error) {
	var request DescribeStreamRequest
	if err := json.Unmarshal(body, &request); err != nil {
		return nil, fmt.Errorf("decode DescribeStreamRequest: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	stream, ok := f.streams[request.StreamArn]
	if !ok {
		return nil, fmt.Errorf("ResourceNotFoundException: stream %s not found", request.StreamArn)
	}

	visible := make([]*shard, 0, len(stream.shards))
	for _, sh := range stream.shards {
		if _, hidden := stream.withheld[sh.id]; hidden {
			continue
		}
		visible = append(visible, sh)
	}

	startIdx := 0
	if request.ExclusiveStartShardId != "" {
		found := slices.IndexFunc(visible, func(s *shard) bool {
			return s.id == request.ExclusiveStartShardId
		})
		if found >= 0 {
			startIdx = found + 1
		}
	}

	limit := request.Limit
	if limit <= 0 || limit > f.pageSize {
		limit = f.pageSize
	}
	endIdx := min(startIdx+limit, len(visible))

	responseShards := make([]Shard, endIdx-startIdx)
	for i, sh := range visible[startIdx:endIdx] {
		responseShards[i] = Shard{
			ShardId:       sh.id,
			ParentShardId: sh.parent,
			SequenceNumberRange: SequenceNumberRange{
				StartingSequenceNumber: sh.startSeq,
				EndingSequenceNumber:   sh.endSeq,
			},
		}
	}

	var lastEvaluated *string
	if endIdx < len(visible) {
		lastEvaluated = &visible[endIdx-1].id
	}

	return &DescribeStreamResponse{
		StreamDescription: StreamDescription{
			StreamArn:            stream.arn,
			StreamStatus:         stream.status,
			Shards:               responseShards,
			LastEvaluatedShardId: lastEvaluated,
		},
	}, nil
}
