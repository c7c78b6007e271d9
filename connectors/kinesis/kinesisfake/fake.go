// Package kinesisfake is an in-process HTTP fake of the Kinesis API covering
// the stream management and shard listing operations the connector uses.
package kinesisfake

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

func StartFake() (*httptest.Server, *Fake) {
	fk := &Fake{
		db: &db{streams: make(map[string]*stream)},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		route(fk, w, r)
	})

	return httptest.NewServer(mux), fk
}

func route(f *Fake, w http.ResponseWriter, r *http.Request) {
	target := strings.Split(r.Header.Get("x-amz-target"), ".")
	operation := target[len(target)-1]
	w.Header().Set("Content-Type", "application/x-amz-json-1.1")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		handleError(w, err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var resp any
	switch operation {
	case "CreateStream":
		resp, err = f.createStream(body)
	case "DeleteStream":
		resp, err = f.deleteStream(body)
	case "DescribeStream":
		resp, err = f.describeStream(body)
	case "DescribeStreamSummary":
		resp, err = f.describeStreamSummary(body)
	case "ListShards":
		resp, err = f.listShards(body)
	case "SplitShard":
		resp, err = f.splitShard(body)
	default:
		err = fmt.Errorf("InvalidAction: %s", operation)
	}

	if err != nil {
		handleError(w, err)
		return
	}
	json.NewEncoder(w).Encode(resp)
}

type awsError struct {
	typeName string
	message  string
}

func (e *awsError) Error() string { return e.message }

func notFound(message string) *awsError {
	return &awsError{typeName: "ResourceNotFoundException", message: message}
}

func handleError(w http.ResponseWriter, err error) {
	typeName := "InternalFailure"
	if aerr, ok := err.(*awsError); ok {
		typeName = aerr.typeName
	}
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{
		"__type":  typeName,
		"message": err.Error(),
	})
}

type Fake struct {
	mu sync.Mutex
	db *db
}

type db struct {
	streams map[string]*stream
}

type stream struct {
	name   string
	shards []*shard
}

// Internal tracked state of a shard
type shard struct {
	id           string
	parentShard  string
	hashKeyRange hashKeyRange
	startSeq     string
	endSeq       string // empty while open
}

type hashKeyRange struct {
	startingHashKey *big.Int
	endingHashKey   *big.Int
}

func (f *Fake) streamByNameOrARN(name, arn string) (*stream, error) {
	if name == "" && arn != "" {
		name = streamNameFromARN(arn)
	}
	s, ok := f.db.streams[name]
	if !ok {
		return nil, notFound(fmt.Sprintf("stream %s not found", name))
	}
	return s, nil
}

func arnFromStreamName(streamName string) string {
	return fmt.Sprintf("arn:aws:kinesis:us-east-2:123456789012:stream/%s", streamName)
}

func streamNameFromARN(arn string) string {
	parts := strings.Split(arn, "/")
	return parts[len(parts)-1]
}
