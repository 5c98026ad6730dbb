// Copyright 2026 Fluxlog, Inc.

// fluxlog-client is a minimal produce/consume CLI against a running SPU,
// mainly for smoke-testing a deployment.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/fluxlog/fluxlog/pkg/compression"
	"github.com/fluxlog/fluxlog/pkg/config"
	"github.com/fluxlog/fluxlog/pkg/consumer"
	"github.com/fluxlog/fluxlog/pkg/logger"
	"github.com/fluxlog/fluxlog/pkg/producer"
	"github.com/fluxlog/fluxlog/pkg/rpcapi"
	"github.com/fluxlog/fluxlog/pkg/throttle"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	addr := flag.String("addr", "127.0.0.1:9005", "SPU RPC address")
	topic := flag.String("topic", "events", "topic to produce to / consume from")
	partition := flag.Int("partition", 0, "partition")
	mode := flag.String("mode", "consume", "produce | consume")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(logger.New(logger.Config{Level: cfg.Logging.Level, Format: "text"}))

	client, err := rpcapi.Dial(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch *mode {
	case "produce":
		err = runProducer(ctx, client, cfg, *topic, int32(*partition))
	case "consume":
		err = runConsumer(ctx, client, cfg, *topic, int32(*partition))
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// runProducer reads lines from stdin and produces each as one record.
// "key=value" lines split into key and value.
func runProducer(ctx context.Context, client *rpcapi.Client, cfg *config.Config, topic string, partition int32) error {
	codec, err := compression.Parse(cfg.Producer.Compression)
	if err != nil {
		return err
	}

	delivery := producer.AtLeastOnce
	if cfg.Producer.Delivery == "at-most-once" {
		delivery = producer.AtMostOnce
	}

	limiter := throttle.New(&throttle.Config{
		ProducerBytesPerSecond: cfg.Throttle.Producer.BytesPerSecond,
		ProducerBurst:          cfg.Throttle.Producer.Burst,
	})
	defer limiter.Close()

	p := producer.New(topic, singleSPU{client}, producer.Config{
		BatchSizeMax: cfg.Producer.BatchSizeMax,
		Linger:       time.Duration(cfg.Producer.LingerMs) * time.Millisecond,
		Timeout:      time.Duration(cfg.Producer.TimeoutMs) * time.Millisecond,
		Delivery:     delivery,
		Compression:  codec,
	}, limiter)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Text()
		rec := producer.Record{Value: []byte(line)}
		if key, value, found := strings.Cut(line, "="); found {
			rec = producer.Record{Key: []byte(key), Value: []byte(value)}
		}
		if err := p.Send(ctx, partition, rec); err != nil {
			return err
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return p.Close(closeCtx)
}

// runConsumer tails the partition, resuming from this consumer's stored
// offset, and prints records to stdout.
func runConsumer(ctx context.Context, client *rpcapi.Client, cfg *config.Config, topic string, partition int32) error {
	strategy, err := consumer.ParseOffsetManagement(cfg.Consumer.OffsetStrategy)
	if err != nil {
		return err
	}

	consumerID := "fluxlog-client-" + uuid.NewString()[:8]

	limiter := throttle.New(&throttle.Config{
		ConsumerBytesPerSecond: cfg.Throttle.Consumer.BytesPerSecond,
		ConsumerBurst:          cfg.Throttle.Consumer.Burst,
	})
	defer limiter.Close()

	start := int64(0)
	if stored, err := client.GetOffset(ctx, &rpcapi.GetOffsetRequest{
		ConsumerID: consumerID, Topic: topic, Partition: partition,
	}); err == nil && stored.Found {
		start = stored.Offset + 1
	}

	flushCh := make(chan consumer.FlushRequest, 16)
	go rpcapi.RunFlushForwarder(ctx, client, consumerID, flushCh)

	stream := consumer.NewSinglePartitionStream(topic, partition,
		rpcapi.NewPartitionStream(client, topic, partition, start, "read_committed"),
		flushCh,
		consumer.Config{
			Strategy:           strategy,
			FlushPeriod:        time.Duration(cfg.Consumer.FlushPeriodMs) * time.Millisecond,
			FlusherCheckPeriod: time.Duration(cfg.Consumer.FlusherCheckPeriodMs) * time.Millisecond,
		})
	defer stream.Close()

	for {
		rec, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if err := limiter.AllowConsumer(ctx, len(rec.Key)+len(rec.Value)); err != nil {
			return err
		}
		if len(rec.Key) > 0 {
			fmt.Printf("%d: %s=%s\n", rec.Offset, rec.Key, rec.Value)
		} else {
			fmt.Printf("%d: %s\n", rec.Offset, rec.Value)
		}
	}
}

// singleSPU routes every partition to the one connected SPU, which is all
// a smoke-test client needs.
type singleSPU struct {
	client *rpcapi.Client
}

func (s singleSPU) LeaderFor(string, int32) (int32, error)       { return 1, nil }
func (s singleSPU) ConnectSPU(int32) (producer.SPUClient, error) { return s.client, nil }
