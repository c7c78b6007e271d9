// Package dynamodbstreams connects the shard enumeration core to the
// DynamoDB Streams service.
package dynamodbstreams

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
	"shardline.dev/shardline/connectors/shardsource"
	"shardline.dev/shardline/telemetry"
	"shardline.dev/shardline/util/ptr"
)

// Client implements shardsource.StreamProxy over the DescribeStream API.
type Client struct {
	svc *dynamodbstreams.Client
}

type NewClientParams struct {
	// The DynamoDB Streams endpoint to use. Normally left blank but used for
	// testing against the fake.
	Endpoint string
	Region   string
	// The AWS credentials profile name to use instead of default when
	// credentials fall back to the credentials config file.
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
				Transport: telemetry.NewMetricsTransport("dynamodbstreams", nil),
			}

			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("dynamodbstreams load config: %w", err)
	}

	svc := dynamodbstreams.NewFromConfig(cfg, func(opts *dynamodbstreams.Options) {
		if params.Endpoint != "" {
			opts.BaseEndpoint = ptr.New(params.Endpoint)
		}
	})

	return &Client{svc: svc}, nil
}

// NewLocalClient returns a client against a local fake endpoint with
// anonymous credentials and no retries.
func NewLocalClient(endpoint string) *Client {
	svc := dynamodbstreams.New(dynamodbstreams.Options{
		BaseEndpoint: ptr.New(endpoint),
		Region:       "us-east-2",
		Credentials:  aws.AnonymousCredentials{},
		Retryer:      aws.NopRetryer{},
	})
	return &Client{svc: svc}
}

// ListShards pages through DescribeStream until the lineage is exhausted.
// When exclusiveStartShardID is set the listing resumes after that shard,
// which serves the anchored re-listing of inconsistency resolution.
func (c *Client) ListShards(ctx context.Context, streamARN string, exclusiveStartShardID *string) (shardsource.ListShardsResult, error) {
	var result shardsource.ListShardsResult

	lastEvaluated := exclusiveStartShardID
	for {
		out, err := c.svc.DescribeStream(ctx, &dynamodbstreams.DescribeStreamInput{
			StreamArn:             &streamARN,
			ExclusiveStartShardId: lastEvaluated,
		})
		if err != nil {
			return shardsource.ListShardsResult{}, fmt.Errorf("describe stream %s: %w", streamARN, err)
		}
		description := out.StreamDescription
		if description == nil {
			return shardsource.ListShardsResult{}, fmt.Errorf("describe stream %s: empty stream description", streamARN)
		}

		for _, shard := range description.Shards {
			result.Shards = append(result.Shards, shardFromSDK(shard))
		}
		result.StreamStatus = streamStatusFromSDK(description.StreamStatus)

		if description.LastEvaluatedShardId == nil {
			return result, nil
		}
		lastEvaluated = description.LastEvaluatedShardId
	}
}

func (c *Client) Close() error {
	return nil
}

var _ shardsource.StreamProxy = (*Client)(nil)

func shardFromSDK(shard types.Shard) shardsource.Shard {
	out := shardsource.Shard{
		ShardID:       ptr.Deref(shard.ShardId),
		ParentShardID: shard.ParentShardId,
	}
	if shard.SequenceNumberRange != nil {
		out.SequenceNumberRange = shardsource.SequenceNumberRange{
			StartingSequenceNumber: ptr.Deref(shard.SequenceNumberRange.StartingSequenceNumber),
			EndingSequenceNumber:   shard.SequenceNumberRange.EndingSequenceNumber,
		}
	}
	return out
}

func streamStatusFromSDK(status types.StreamStatus) shardsource.StreamStatus {
	switch status {
	case types.StreamStatusEnabling:
		return shardsource.StreamStatusEnabling
	case types.StreamStatusDisabling:
		return shardsource.StreamStatusDisabling
	case types.StreamStatusDisabled:
		return shardsource.StreamStatusDisabled
	default:
		return shardsource.StreamStatusEnabled
	}
}
