package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"shardline.dev/shardline/checkpoints"
	"shardline.dev/shardline/connectors/dynamodbstreams"
	"shardline.dev/shardline/connectors/kinesis"
	"shardline.dev/shardline/connectors/shardsource"
	"shardline.dev/shardline/logging"
)

func main() {
	app := &cli.App{
		Name:  "shardline",
		Usage: "Enumerate and assign the shards of a DynamoDB Streams change log or Kinesis stream",
		Commands: []*cli.Command{{
			Name:      "enumerate",
			Usage:     "Run a shard enumerator against a stream, printing assignments",
			Args:      true,
			ArgsUsage: "<stream-arn>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "stream-type",
					Value: "dynamodb",
					Usage: "stream backend: dynamodb or kinesis",
				},
				&cli.StringFlag{
					Name:  "endpoint",
					Usage: "override the service endpoint, e.g. for local testing",
				},
				&cli.IntFlag{
					Name:  "parallelism",
					Value: 2,
					Usage: "number of simulated reader subtasks",
				},
				&cli.StringFlag{
					Name:  "initial-position",
					Value: "LATEST",
					Usage: "TRIM_HORIZON, LATEST or AT_TIMESTAMP",
				},
				&cli.StringFlag{
					Name:  "initial-timestamp",
					Usage: "ISO-8601 instant, used with AT_TIMESTAMP",
				},
				&cli.DurationFlag{
					Name:  "shard-discovery-interval",
					Value: time.Minute,
					Usage: "time between discovery cycles",
				},
				&cli.IntFlag{
					Name:  "inconsistency-retry-count",
					Value: 5,
					Usage: "max listing resolution retries per discovery",
				},
				&cli.StringFlag{
					Name:  "metrics-addr",
					Usage: "serve prometheus metrics on this address",
				},
				&cli.StringFlag{
					Name:  "checkpoint-dir",
					Usage: "directory for enumerator state checkpoints",
				},
				&cli.DurationFlag{
					Name:  "checkpoint-interval",
					Value: 30 * time.Second,
					Usage: "time between state checkpoints",
				},
			},
			Action: func(ctx *cli.Context) error {
				streamARN := ctx.Args().First()
				if streamARN == "" {
					return fmt.Errorf("stream ARN argument is required")
				}
				return runEnumerate(ctx, streamARN)
			},
		}, {
			Name:  "checkpoint",
			Usage: "Work with saved enumerator state",
			Subcommands: []*cli.Command{{
				Name:      "inspect",
				Usage:     "Decode and print a checkpoint file",
				Args:      true,
				ArgsUsage: "<path>",
				Action: func(ctx *cli.Context) error {
					path := ctx.Args().First()
					if path == "" {
						return fmt.Errorf("checkpoint path argument is required")
					}
					return inspectCheckpoint(path)
				},
			}},
		}},
	}

	slog.SetDefault(slog.New(logging.NewTextHandler()))
	logging.SetLevel(slog.LevelInfo)

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runEnumerate(cliCtx *cli.Context, streamARN string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initialPosition, err := shardsource.ParseInitialPosition(cliCtx.String("initial-position"))
	if err != nil {
		return err
	}
	config := shardsource.EnumeratorConfig{
		InitialPosition:                initialPosition,
		ShardDiscoveryInterval:         cliCtx.Duration("shard-discovery-interval"),
		InconsistencyResolutionRetries: cliCtx.Int("inconsistency-retry-count"),
	}
	if raw := cliCtx.String("initial-timestamp"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("initial-timestamp must be an ISO-8601 instant: %w", err)
		}
		config.InitialTimestamp = ts
	}

	proxy, err := newStreamProxy(cliCtx.String("stream-type"), cliCtx.String("endpoint"))
	if err != nil {
		return err
	}

	var store checkpoints.Store
	var restored *shardsource.EnumeratorState
	if dir := cliCtx.String("checkpoint-dir"); dir != "" {
		fileStore, err := checkpoints.NewFileStore(dir)
		if err != nil {
			return err
		}
		store = fileStore

		if data, ok, err := fileStore.LoadLatest(); err != nil {
			return err
		} else if ok {
			state, err := shardsource.DeserializeEnumeratorState(data)
			if err != nil {
				return fmt.Errorf("recover enumerator state: %w", err)
			}
			restored = &state
			slog.Info("recovered enumerator state", "splits", len(state.KnownSplits))
		}
	}

	parallelism := cliCtx.Int("parallelism")
	coordinator := shardsource.NewCoordinator(ctx, parallelism, shardsource.AssignmentSinkFunc(printAssignments))

	errChan := make(chan error, 1)
	enumerator := shardsource.NewEnumerator(shardsource.NewEnumeratorParams{
		Context:       coordinator,
		StreamARN:     streamARN,
		Config:        config,
		StreamProxy:   proxy,
		RestoredState: restored,
		ErrChan:       errChan,
	})
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(coordinator.Run)
	group.Go(func() error {
		select {
		case err := <-errChan:
			return err
		case <-groupCtx.Done():
			return nil
		}
	})
	if store != nil {
		group.Go(func() error {
			return runCheckpointLoop(groupCtx, coordinator, enumerator, store, cliCtx.Duration("checkpoint-interval"))
		})
	}
	if addr := cliCtx.String("metrics-addr"); addr != "" {
		group.Go(func() error {
			return serveMetrics(groupCtx, addr)
		})
	}

	for subtask := range parallelism {
		coordinator.RegisterReader(shardsource.ReaderInfo{SubtaskID: subtask}, enumerator)
	}
	coordinator.Post(enumerator.Start)
	defer enumerator.Close()

	slog.Info("enumerating", "streamARN", streamARN, "parallelism", parallelism)
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newStreamProxy(streamType, endpoint string) (shardsource.StreamProxy, error) {
	switch streamType {
	case "dynamodb":
		return dynamodbstreams.NewClient(&dynamodbstreams.NewClientParams{Endpoint: endpoint})
	case "kinesis":
		client, err := kinesis.NewClient(&kinesis.NewClientParams{Endpoint: endpoint})
		if err != nil {
			return nil, err
		}
		return kinesis.NewStreamProxy(client), nil
	default:
		return nil, fmt.Errorf("unknown stream type %q", streamType)
	}
}

func printAssignments(assignments map[int][]shardsource.Split) error {
	for subtaskID, splits := range assignments {
		for _, split := range splits {
			fmt.Printf("subtask %d <- %s (%s)\n", subtaskID, split.SplitID(), split.StartingPosition)
		}
	}
	return nil
}

func runCheckpointLoop(ctx context.Context, coordinator *shardsource.Coordinator, enumerator *shardsource.Enumerator, store checkpoints.Store, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var checkpointID int64
	for {
		select {
		case <-ticker.C:
			checkpointID++
			id := checkpointID
			snapshots := make(chan shardsource.EnumeratorState, 1)
			coordinator.Post(func() {
				snapshots <- enumerator.SnapshotState(id)
			})

			var state shardsource.EnumeratorState
			select {
			case state = <-snapshots:
			case <-ctx.Done():
				return nil
			}

			data, err := shardsource.SerializeEnumeratorState(state)
			if err != nil {
				return fmt.Errorf("serialize checkpoint %d: %w", id, err)
			}
			uri, err := store.Save(id, data)
			if err != nil {
				return fmt.Errorf("save checkpoint %d: %w", id, err)
			}
			slog.Info("checkpointed enumerator state", "checkpointID", id, "splits", len(state.KnownSplits), "uri", uri)
		case <-ctx.Done():
			return nil
		}
	}
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	// Enumerator counters live in the VictoriaMetrics set; the stream API
	// transport histograms live in the prometheus default registry.
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	mux.Handle("/metrics/transport", promhttp.Handler())

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func inspectCheckpoint(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	state, err := shardsource.DeserializeEnumeratorState(data)
	if err != nil {
		return err
	}

	fmt.Printf("start timestamp: %s\n", state.StartTimestamp.UTC().Format(time.RFC3339))
	fmt.Printf("known splits: %d\n", len(state.KnownSplits))
	for _, sws := range state.KnownSplits {
		parent := "-"
		if sws.Split.ParentShardID != nil {
			parent = *sws.Split.ParentShardID
		}
		fmt.Printf("  %-12s %s position=%s parent=%s children=%d\n",
			sws.Status, sws.Split.SplitID(), sws.Split.StartingPosition, parent, len(sws.Split.ChildSplits))
	}
	return nil
}
