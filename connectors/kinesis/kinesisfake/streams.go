package kinesisfake

import (
	"encoding/json"
	"fmt"
	"math/big"
)

type CreateStreamRequest struct {
	StreamName string
	ShardCount int
}

type CreateStreamResponse struct{}

// maxHashKey is 2^128 - 1, the top of the kinesis hash key space.
var maxHashKey = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

func (f *Fake) createStream(body []byte) (*CreateStreamResponse, error) {
	var req CreateStreamRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode CreateStreamRequest: %w", err)
	}
	if req.ShardCount < 1 {
		return nil, fmt.Errorf("ShardCount must be at least 1")
	}

	s := &stream{name: req.StreamName}
	step := new(big.Int).Div(maxHashKey, big.NewInt(int64(req.ShardCount)))
	for i := range req.ShardCount {
		start := new(big.Int).Mul(step, big.NewInt(int64(i)))
		end := new(big.Int).Add(start, new(big.Int).Sub(step, big.NewInt(1)))
		if i == req.ShardCount-1 {
			end = maxHashKey
		}
		s.shards = append(s.shards, &shard{
			id:           fmt.Sprintf("shardId-%012d", i),
			hashKeyRange: hashKeyRange{startingHashKey: start, endingHashKey: end},
			startSeq:     "0",
		})
	}
	f.db.streams[req.StreamName] = s

	return &CreateStreamResponse{}, nil
}

type DeleteStreamRequest struct {
	StreamName string
	StreamARN  string
}

type DeleteStreamResponse struct{}

func (f *Fake) deleteStream(body []byte) (*DeleteStreamResponse, error) {
	var req DeleteStreamRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode DeleteStreamRequest: %w", err)
	}

	s, err := f.streamByNameOrARN(req.StreamName, req.StreamARN)
	if err != nil {
		return nil, err
	}
	delete(f.db.streams, s.name)
	return &DeleteStreamResponse{}, nil
}

type DescribeStreamRequest struct {
	StreamName string
	StreamARN  string
}

type DescribeStreamResponse struct {
	StreamDescription StreamDescription
}

type StreamDescription struct {
	StreamName    string
	StreamARN     string
	StreamStatus  string
	HasMoreShards bool
	Shards        []Shard
}

func (f *Fake) describeStream(body []byte) (*DescribeStreamResponse, error) {
	var req DescribeStreamRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode DescribeStreamRequest: %w", err)
	}

	s, err := f.streamByNameOrARN(req.StreamName, req.StreamARN)
	if err != nil {
		return nil, err
	}
	return &DescribeStreamResponse{
		StreamDescription: StreamDescription{
			StreamName:   s.name,
			StreamARN:    arnFromStreamName(s.name),
			StreamStatus: "ACTIVE",
			Shards:       shardsToResponse(s.shards),
		},
	}, nil
}

type DescribeStreamSummaryRequest struct {
	StreamName string
	StreamARN  string
}

type DescribeStreamSummaryResponse struct {
	StreamDescriptionSummary StreamDescriptionSummary
}

type StreamDescriptionSummary struct {
	StreamName           string
	StreamARN            string
	StreamStatus         string
	OpenShardCount       int
	RetentionPeriodHours int
}

func (f *Fake) describeStreamSummary(body []byte) (*DescribeStreamSummaryResponse, error) {
	var req DescribeStreamSummaryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode DescribeStreamSummaryRequest: %w", err)
	}

	s, err := f.streamByNameOrARN(req.StreamName, req.StreamARN)
	if err != nil {
		return nil, err
	}

	open := 0
	for _, sh := range s.shards {
		if sh.endSeq == "" {
			open++
		}
	}
	return &DescribeStreamSummaryResponse{
		StreamDescriptionSummary: StreamDescriptionSummary{
			StreamName:           s.name,
			StreamARN:            arnFromStreamName(s.name),
			StreamStatus:         "ACTIVE",
			OpenShardCount:       open,
			RetentionPeriodHours: 24,
		},
	}, nil
}
