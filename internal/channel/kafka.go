package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/roach88/replicant/internal/ir"
)

// Record header names used by the Kafka transport.
const (
	HeaderRequestID = "request-id"
)

// KafkaConfig addresses one partition of one topic.
type KafkaConfig struct {
	Brokers   []string
	Topic     string
	Partition int32
	ClientID  string
}

// Validate checks required fields.
func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka.brokers is required")
	}
	if c.Topic == "" {
		return errors.New("kafka.topic is required")
	}
	if c.Partition < 0 {
		return fmt.Errorf("kafka.partition must be >= 0, got %d", c.Partition)
	}
	return nil
}

// Kafka is a Channel over a single Kafka partition. The record offset is
// the watermark; the record key and a request-id header carry the
// correlation ID.
type Kafka struct {
	cfg      KafkaConfig
	base     []kgo.Opt
	producer *kgo.Client
	admin    *kadm.Client
}

// NewKafka creates a producer client. Extra options are applied to every
// client the transport creates (producer and per-subscription consumers).
func NewKafka(cfg KafkaConfig, opts ...kgo.Opt) (*Kafka, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...)}
	if cfg.ClientID != "" {
		base = append(base, kgo.ClientID(cfg.ClientID))
	}
	base = append(base, opts...)

	producerOpts := append([]kgo.Opt{}, base...)
	producerOpts = append(producerOpts,
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RecordPartitioner(kgo.ManualPartitioner()),
	)

	cl, err := kgo.NewClient(producerOpts...)
	if err != nil {
		return nil, fmt.Errorf("new kafka client: %w", err)
	}

	return &Kafka{
		cfg:      cfg,
		base:     base,
		producer: cl,
		admin:    kadm.NewClient(cl),
	}, nil
}

// Close releases the producer client.
func (k *Kafka) Close() {
	k.producer.Close()
}

// Publish implements Channel.
func (k *Kafka) Publish(ctx context.Context, payload []byte) (ir.Watermark, error) {
	return k.PublishCorrelated(ctx, payload, "")
}

// PublishCorrelated implements Channel.
func (k *Kafka) PublishCorrelated(ctx context.Context, payload []byte, requestID string) (ir.Watermark, error) {
	rec := &kgo.Record{
		Topic:     k.cfg.Topic,
		Partition: k.cfg.Partition,
		Value:     payload,
	}
	if requestID != "" {
		rec.Key = []byte(requestID)
		rec.Headers = []kgo.RecordHeader{{Key: HeaderRequestID, Value: []byte(requestID)}}
	}

	produced, err := k.producer.ProduceSync(ctx, rec).First()
	if err != nil {
		return ir.NoWatermark, fmt.Errorf("kafka produce %s/%d: %w", k.cfg.Topic, k.cfg.Partition, err)
	}
	return ir.Watermark(produced.Offset), nil
}

// Head implements HeadReporter.
func (k *Kafka) Head(ctx context.Context) (ir.Watermark, error) {
	end, err := k.endOffset(ctx)
	if err != nil {
		return ir.NoWatermark, err
	}
	return ir.Watermark(end - 1), nil
}

// endOffset returns the offset the next produced record will receive.
func (k *Kafka) endOffset(ctx context.Context) (int64, error) {
	offsets, err := k.admin.ListEndOffsets(ctx, k.cfg.Topic)
	if err != nil {
		return 0, fmt.Errorf("list end offsets %s: %w", k.cfg.Topic, err)
	}
	lo, ok := offsets.Lookup(k.cfg.Topic, k.cfg.Partition)
	if !ok {
		return 0, fmt.Errorf("list end offsets %s/%d: partition not found", k.cfg.Topic, k.cfg.Partition)
	}
	if lo.Err != nil {
		return 0, fmt.Errorf("list end offsets %s/%d: %w", k.cfg.Topic, k.cfg.Partition, lo.Err)
	}
	return lo.Offset, nil
}

// Subscribe implements Channel. Tail subscriptions resolve the end offset
// before returning so that no record produced afterwards is skipped.
func (k *Kafka) Subscribe(ctx context.Context, pos ir.SeekPosition) (<-chan Delivery, error) {
	var start int64
	switch pos.Kind {
	case ir.SeekTail:
		end, err := k.endOffset(ctx)
		if err != nil {
			return nil, err
		}
		start = end
	case ir.SeekWatermark:
		start = int64(pos.Watermark)
	default:
		return nil, ErrSeekUnsupported
	}

	opts := append([]kgo.Opt{}, k.base...)
	opts = append(opts, kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
		k.cfg.Topic: {k.cfg.Partition: kgo.NewOffset().At(start)},
	}))
	consumer, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("new kafka consumer: %w", err)
	}

	out := make(chan Delivery)
	go k.consume(ctx, consumer, out)
	return out, nil
}

func (k *Kafka) consume(ctx context.Context, consumer *kgo.Client, out chan<- Delivery) {
	defer close(out)
	defer consumer.Close()

	for {
		fetches := consumer.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.Warn("kafka fetch error", "topic", topic, "partition", partition, "error", err)
			send(ctx, out, Delivery{Err: fmt.Errorf("kafka fetch %s/%d: %w", topic, partition, err)})
		})

		stopped := false
		fetches.EachRecord(func(r *kgo.Record) {
			if stopped {
				return
			}
			msg := ir.Message{
				Watermark: ir.Watermark(r.Offset),
				RequestID: recordRequestID(r),
				Payload:   r.Value,
			}
			if !send(ctx, out, Delivery{Message: msg}) {
				stopped = true
			}
		})
		if stopped {
			return
		}
	}
}

// recordRequestID prefers the request-id header and falls back to the key.
func recordRequestID(r *kgo.Record) string {
	for _, h := range r.Headers {
		if h.Key == HeaderRequestID {
			return string(h.Value)
		}
	}
	return string(r.Key)
}

// String renders the transport address for logs.
func (k *Kafka) String() string {
	return "kafka:" + k.cfg.Topic + "/" + strconv.Itoa(int(k.cfg.Partition))
}
