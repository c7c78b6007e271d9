// Package kinesis connects the shard enumeration core to a Kinesis data
// stream, which exposes the same shard lineage model as DynamoDB Streams
// through the ListShards API.
package kinesis

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"shardline.dev/shardline/telemetry"
	"shardline.dev/shardline/util/ptr"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
)

type Client struct {
	svc *kinesis.Client
}

type NewClientParams struct {
	// The kinesis endpoint to use. Normally left blank but used for testing
	// against fake.
	Endpoint string
	Region   string
	// The AWS credentials profile name to use instead of default when credentials
	// falls back to credentials config file.
	Profile     string
	Credentials aws.CredentialsProvider
}

func NewClient(params *NewClientParams) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(),
		func(lo *config.LoadOptions) error {
			if params.Region != "" {
				lo.Region = params.Region
			}
			if params.Profile != "" {
				lo.SharedConfigProfile = params.Profile
			}
			if params.Credentials != nil {
				lo.Credentials = params.Credentials
			}
			lo.HTTPClient = &http.Client{
				Transport: telemetry.NewMetricsTransport("kinesis", nil),
			}

			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("kinesis load config: %w", err)
	}

	svc := kinesis.NewFromConfig(cfg, func(opts *kinesis.Options) {
		if params.Endpoint != "" {
			opts.BaseEndpoint = ptr.New(params.Endpoint)
		}
	})

	return &Client{svc: svc}, nil
}

// NewLocalClient returns a client against a local fake endpoint with
// anonymous credentials and no retries.
func NewLocalClient(endpoint string) *Client {
	svc := kinesis.New(kinesis.Options{
		BaseEndpoint: ptr.New(endpoint),
		Region:       "us-east-2",
		Credentials:  aws.AnonymousCredentials{},
		Retryer:      aws.NopRetryer{},
	})
	return &Client{svc: svc}
}

// ListShards pages through the stream's shards, optionally resuming after
// the given shard id.
func (c *Client) ListShards(ctx context.Context, streamARN string, exclusiveStartShardID *string) ([]types.Shard, error) {
	var shards []types.Shard

	lastSeenShardID := exclusiveStartShardID
	for {
		input := &kinesis.ListShardsInput{
			ExclusiveStartShardId: lastSeenShardID,
			StreamARN:             &streamARN,
		}

		out, err := c.svc.ListShards(ctx, input)
		if err != nil {
			return nil, err
		}

		shards = append(shards, out.Shards...)

		if out.NextToken == nil || len(out.Shards) == 0 {
			break
		}
		lastSeenShardID = out.Shards[len(out.Shards)-1].ShardId
	}

	return shards, nil
}

// StreamStatus returns the stream's lifecycle status.
func (c *Client) StreamStatus(ctx context.Context, streamARN string) (types.StreamStatus, error) {
	out, err := c.svc.DescribeStreamSummary(ctx, &kinesis.DescribeStreamSummaryInput{
		StreamARN: &streamARN,
	})
	if err != nil {
		return "", fmt.Errorf("describe stream summary: %w", err)
	}
	return out.StreamDescriptionSummary.StreamStatus, nil
}

type CreateStreamParams struct {
	StreamName      string
	ShardCount      int
	MaxWaitDuration time.Duration
}

func (c *Client) CreateStream(ctx context.Context, params *CreateStreamParams) (string, error) {
	if _, err := c.svc.CreateStream(ctx, &kinesis.CreateStreamInput{
		StreamName: &params.StreamName,
		ShardCount: ptr.New(int32(params.ShardCount)),
	}); err != nil {
		return "", fmt.Errorf("create stream: %w", err)
	}

	describeInput := &kinesis.DescribeStreamInput{StreamName: &params.StreamName}
	w := kinesis.NewStreamExistsWaiter(c.svc)
	if err := w.Wait(ctx, describeInput, params.MaxWaitDuration); err != nil {
		return "", fmt.Errorf("create stream waiting: %w", err)
	}

	out, err := c.svc.DescribeStream(ctx, describeInput)
	if err != nil {
		return "", fmt.Errorf("create stream describe stream: %w", err)
	}

	if out.StreamDescription.StreamARN == nil {
		return "", fmt.Errorf("invalid stream description output: %+v", out.StreamDescription)
	}

	return *out.StreamDescription.StreamARN, nil
}

type DeleteStreamParams struct {
	StreamName      string
	MaxWaitDuration time.Duration
}

func (c *Client) DeleteStream(ctx context.Context, params *DeleteStreamParams) error {
	input := &kinesis.DeleteStreamInput{StreamName: &params.StreamName}
	if _, err := c.svc.DeleteStream(ctx, input); err != nil {
		return fmt.Errorf("delete stream: %w", err)
	}

	w := kinesis.NewStreamNotExistsWaiter(c.svc)
	if err := w.Wait(
		ctx,
		&kinesis.DescribeStreamInput{StreamName: &params.StreamName},
		30*time.Second,
		func(snewo *kinesis.StreamNotExistsWaiterOptions) {
			snewo.MinDelay = 1 * time.Millisecond
		}); err != nil {
		return fmt.Errorf("delete stream waiting: %w", err)
	}

	return nil
}

// SplitShard splits the given shard at the new starting hash key.
func (c *Client) SplitShard(ctx context.Context, streamARN, shardID, newStartingHashKey string) error {
	_, err := c.svc.SplitShard(ctx, &kinesis.SplitShardInput{
		StreamARN:          &streamARN,
		ShardToSplit:       &shardID,
		NewStartingHashKey: &newStartingHashKey,
	})
	if err != nil {
		return fmt.Errorf("split shard: %w", err)
	}
	return nil
}
