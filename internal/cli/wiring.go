package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/roach88/replicant/internal/channel"
	"github.com/roach88/replicant/internal/config"
	"github.com/roach88/replicant/internal/fashion"
	"github.com/roach88/replicant/internal/ir"
	"github.com/roach88/replicant/internal/objstore"
	"github.com/roach88/replicant/internal/offload"
	"github.com/roach88/replicant/internal/pump"
	"github.com/roach88/replicant/internal/scatter"
	"github.com/roach88/replicant/internal/store"
)

// node holds the transports and stores one process talks to, built from
// a Config.
type node struct {
	cfg config.Config

	db *store.Store // nil unless a sqlite transport or objstore is configured

	updates   channel.Channel
	requests  channel.Channel
	responses channel.Channel // wrapped with offload when search.offload_responses is set

	snapshots objstore.Store
	offloaded *offload.Channel // nil unless responses are offloaded

	closers []func() error
}

// openNode opens everything cfg names. On error, whatever was already
// opened is closed again.
func openNode(cfg config.Config) (*node, error) {
	n := &node{cfg: cfg}
	if err := n.open(); err != nil {
		_ = n.Close()
		return nil, err
	}
	return n, nil
}

func (n *node) open() error {
	cfg := n.cfg
	var err error

	if cfg.Transport.Kind == "sqlite" || cfg.ObjStore.Kind == "sqlite" {
		slog.Info("opening database", "path", cfg.Transport.SQLitePath)
		if n.db, err = store.Open(cfg.Transport.SQLitePath); err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		n.closers = append(n.closers, n.db.Close)
	}

	topics := cfg.Transport.Topics
	if n.updates, err = n.openLog(topics.Updates); err != nil {
		return err
	}
	if cfg.Transport.RequestBus == "amqp" {
		bus, err := channel.DialAMQP(channel.AMQPConfig{URL: cfg.Transport.AMQP.URL, Exchange: topics.Requests})
		if err != nil {
			return fmt.Errorf("request bus: %w", err)
		}
		n.closers = append(n.closers, bus.Close)
		n.requests = bus
	} else if n.requests, err = n.openLog(topics.Requests); err != nil {
		return err
	}
	if n.responses, err = n.openLog(topics.Responses); err != nil {
		return err
	}

	if n.snapshots, err = n.openStore(cfg.ObjStore.Container); err != nil {
		return err
	}
	if cfg.Search.OffloadResponses {
		blobs, err := n.openStore(cfg.ObjStore.OffloadContainer)
		if err != nil {
			return err
		}
		n.offloaded = offload.Wrap(n.responses, blobs)
		n.responses = n.offloaded
	}
	return nil
}

func (n *node) openLog(topic string) (channel.Channel, error) {
	switch n.cfg.Transport.Kind {
	case "memory":
		m := channel.NewMemory()
		n.closers = append(n.closers, m.Close)
		return m, nil
	case "sqlite":
		return channel.NewSQLiteLog(n.db, topic), nil
	case "kafka":
		kc := n.cfg.Transport.Kafka
		k, err := channel.NewKafka(channel.KafkaConfig{
			Brokers:   kc.Brokers,
			Topic:     topic,
			Partition: kc.Partition,
			ClientID:  kc.ClientID,
		})
		if err != nil {
			return nil, fmt.Errorf("kafka topic %s: %w", topic, err)
		}
		n.closers = append(n.closers, func() error { k.Close(); return nil })
		return k, nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", n.cfg.Transport.Kind)
	}
}

func (n *node) openStore(container string) (objstore.Store, error) {
	switch n.cfg.ObjStore.Kind {
	case "memory":
		return objstore.NewMemory(time.Now), nil
	case "sqlite":
		return objstore.NewSQLite(n.db, container), nil
	case "dir":
		d, err := objstore.NewDir(filepath.Join(n.cfg.ObjStore.Path, container))
		if err != nil {
			return nil, fmt.Errorf("object store %s: %w", container, err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown objstore kind %q", n.cfg.ObjStore.Kind)
	}
}

// Close releases resources in reverse order of opening.
func (n *node) Close() error {
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	n.closers = nil
	return errors.Join(errs...)
}

// replyTo is the address responders publish replies to.
func (n *node) replyTo() ir.TopicAndPartition {
	return ir.TopicAndPartition{Topic: n.cfg.Transport.Topics.Responses, Partition: n.cfg.Transport.Kafka.Partition}
}

// resolver routes replies to this node's response channel.
func (n *node) resolver() scatter.ReplyResolver {
	return scatter.StaticResolver(map[ir.TopicAndPartition]channel.Channel{n.replyTo(): n.responses})
}

// catalogPump builds the catalog pump from the pump section. extra is
// applied after the configured options.
func (n *node) catalogPump(extra ...pump.Option) *pump.Pump[fashion.Catalog, fashion.MarkupUpdate] {
	pc := n.cfg.Pump
	opts := []pump.Option{
		pump.WithSnapshotInterval(pc.SnapshotInterval),
		pump.WithRetention(pc.RetentionMaxAge, pc.RetentionInterval),
		pump.WithKeepNewest(pc.KeepNewest),
		pump.WithCompression(pc.Compress),
	}
	return pump.New[fashion.Catalog, fashion.MarkupUpdate](fashion.CatalogDomain{}, n.updates, n.snapshots, append(opts, extra...)...)
}

func (n *node) coordinator(data scatter.Source[fashion.Catalog]) (*scatter.Coordinator[fashion.Catalog, fashion.SearchQuery, fashion.Item], error) {
	return scatter.NewCoordinator(scatter.CoordinatorConfig[fashion.Catalog, fashion.SearchQuery, fashion.Item]{
		Requests:            n.requests,
		Responses:           n.responses,
		ReplyTo:             n.replyTo(),
		Data:                data,
		LiveSteps:           fashion.LiveSteps(),
		FinalSteps:          fashion.FinalSteps(),
		ProcessingAllowance: n.cfg.Search.ProcessingAllowance,
	})
}

func (n *node) responder(inv fashion.Inventory) *scatter.Responder[fashion.SearchQuery, fashion.Item] {
	return scatter.NewResponder(n.requests, n.resolver(), inv.Handler(),
		scatter.WithMaxConcurrent(n.cfg.Search.MaxConcurrent))
}
