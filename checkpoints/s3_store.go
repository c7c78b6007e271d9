package checkpoints

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/segmentio/ksuid"
	"shardline.dev/shardline/util/ptr"
)

// S3Service is the subset of the S3 API the store uses.
type S3Service interface {
	GetObject(ctx context.Context, input *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store keeps checkpoints as objects under a bucket prefix.
type S3Store struct {
	svc    S3Service
	bucket string
	prefix string
}

func NewS3Store(svc S3Service, bucket, prefix string) *S3Store {
	return &S3Store{svc: svc, bucket: bucket, prefix: prefix}
}

func (s *S3Store) Save(checkpointID int64, state []byte) (string, error) {
	key := path.Join(s.prefix, checkpointName(checkpointID, ksuid.New().String()))
	_, err := s.svc.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(state),
	})
	if err != nil {
		return "", fmt.Errorf("put checkpoint: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *S3Store) LoadLatest() ([]byte, bool, error) {
	listPrefix := path.Join(s.prefix, checkpointPrefix)

	var latestKey string
	var continuation *string
	for {
		out, err := s.svc.ListObjectsV2(context.Background(), &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            ptr.New(listPrefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, false, fmt.Errorf("list checkpoints: %w", err)
		}
		for _, obj := range out.Contents {
			if obj.Key != nil && *obj.Key > latestKey {
				latestKey = *obj.Key
			}
		}
		if out.NextContinuationToken == nil {
			break
		}
		continuation = out.NextContinuationToken
	}
	if latestKey == "" {
		return nil, false, nil
	}

	obj, err := s.svc.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &latestKey,
	})
	if err != nil {
		return nil, false, fmt.Errorf("get checkpoint %s: %w", latestKey, err)
	}
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read checkpoint %s: %w", latestKey, err)
	}
	return data, true, nil
}

var _ Store = (*S3Store)(nil)
