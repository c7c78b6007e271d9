package checkpoints

import (
	"bytes"
	"context"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// MemoryS3Service is an in-memory implementation of S3Service for testing.
type MemoryS3Service struct {
	data map[string][]byte
}

func NewMemoryS3Service() *MemoryS3Service {
	return &MemoryS3Service{
		data: make(map[string][]byte),
	}
}

func (m *MemoryS3Service) GetObject(ctx context.Context, input *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.data[path.Join(*input.Bucket, *input.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}

	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(data)),
	}, nil
}

func (m *MemoryS3Service) ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	bucketAndPrefix := *input.Bucket + "/" + *input.Prefix
	for key := range m.data {
		if strings.HasPrefix(key, bucketAndPrefix) {
			keys = append(keys, strings.TrimPrefix(key, *input.Bucket+"/"))
		}
	}
	slices.Sort(keys)

	var contents []types.Object
	for _, key := range keys {
		contents = append(contents, types.Object{
			Key: &key,
		})
	}

	return &s3.ListObjectsV2Output{
		Contents: contents,
	}, nil
}

func (m *MemoryS3Service) PutObject(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	buf, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}

	m.data[path.Join(*input.Bucket, *input.Key)] = buf
	return &s3.PutObjectOutput{}, nil
}

var _ S3Service = (*MemoryS3Service)(nil)
