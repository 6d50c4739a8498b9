package kafkastream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"orderwatch/internal/logging"
	"orderwatch/internal/orders"
	"orderwatch/internal/push"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const (
	defaultHealthInterval  = 5 * time.Second
	defaultMetadataTimeout = 3 * time.Second
)

// Config selects the brokers and topic carrying order events
type Config struct {
	Brokers []string
	Topic   string

	// HealthInterval is how often the link is re-checked while connected
	HealthInterval time.Duration
	// MetadataTimeout bounds one metadata round trip
	MetadataTimeout time.Duration
}

// ParseBrokers splits a comma-separated broker list
func ParseBrokers(csv string) []string {
	brokers := []string{}
	for _, b := range strings.Split(csv, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// partitionReader reads one partition of the topic
type partitionReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Stream is a push.Source reading order events from a Kafka topic.
// Every subscription reads all partitions from the latest offset without
// joining a consumer group, so nothing is left behind on the brokers.
type Stream struct {
	cfg Config
	log *logrus.Entry

	lookup     func(ctx context.Context) ([]int, error)
	openReader func(partition int) (partitionReader, error)
}

// New creates a Kafka-backed stream
func New(cfg Config, log *logrus.Entry) (*Stream, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic required")
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = defaultHealthInterval
	}
	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = defaultMetadataTimeout
	}

	s := &Stream{cfg: cfg, log: log.WithField("transport", "kafka")}
	s.lookup = s.readPartitions
	s.openReader = s.newReader
	return s, nil
}

// Subscribe starts reading events published from now on.
// The snapshot fetch covers everything older.
func (s *Stream) Subscribe(ctx context.Context, h push.Handler) (*push.Subscription, error) {
	return push.Start(ctx, s.pump, h), nil
}

func (s *Stream) newReader(partition int) (partitionReader, error) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   s.cfg.Brokers,
		Topic:     s.cfg.Topic,
		Partition: partition,
		MinBytes:  1,
		MaxBytes:  10e6,
		MaxWait:   time.Second,
	})
	if err := r.SetOffset(kafka.LastOffset); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// readPartitions asks a broker for the topic's partitions. Only a broker
// that answers the metadata request counts as reachable.
func (s *Stream) readPartitions(ctx context.Context) ([]int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.MetadataTimeout)
	defer cancel()
	deadline, _ := ctx.Deadline()

	var lastErr error
	for _, broker := range s.cfg.Brokers {
		c, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		if err := c.SetDeadline(deadline); err != nil {
			c.Close()
			lastErr = err
			continue
		}
		partitions, err := c.ReadPartitions(s.cfg.Topic)
		c.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if len(partitions) == 0 {
			lastErr = fmt.Errorf("topic %s has no partitions", s.cfg.Topic)
			continue
		}

		ids := make([]int, 0, len(partitions))
		for _, p := range partitions {
			ids = append(ids, p.ID)
		}
		sort.Ints(ids)
		return ids, nil
	}
	return nil, fmt.Errorf("read partitions: %w", lastErr)
}

func (s *Stream) pump(ctx context.Context, emit func(orders.OrderEvent), conn *push.Connectivity) error {
	backoff := push.DefaultBackoff()
	for {
		partitions, err := s.lookup(ctx)
		if err == nil {
			backoff.Reset()
			err = s.consume(ctx, partitions, emit, conn)
			conn.Set(false)
		}
		if ctx.Err() != nil {
			return nil
		}

		wait := backoff.Next()
		s.log.WithError(err).WithFields(logrus.Fields{
			"action":       logging.ActionStreamReconnecting,
			"next_attempt": wait.String(),
		}).Warn("kafka brokers unreachable")
		if !push.Sleep(ctx, wait) {
			return nil
		}
	}
}

// consume reads every partition until ctx is done, a read fails or a
// health check fails. The link is reported up only while it runs.
func (s *Stream) consume(ctx context.Context, partitions []int, emit func(orders.OrderEvent), conn *push.Connectivity) error {
	ctx, cancel := context.WithCancel(ctx)

	readers := make([]partitionReader, 0, len(partitions))
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		for _, r := range readers {
			r.Close()
		}
	}()

	for _, p := range partitions {
		r, err := s.openReader(p)
		if err != nil {
			return fmt.Errorf("open partition %d: %w", p, err)
		}
		readers = append(readers, r)
	}

	msgs := make(chan kafka.Message)
	failed := make(chan error, len(readers))
	for _, r := range readers {
		wg.Add(1)
		go func(r partitionReader) {
			defer wg.Done()
			for {
				msg, err := r.ReadMessage(ctx)
				if err != nil {
					if ctx.Err() == nil {
						failed <- err
					}
					return
				}
				select {
				case msgs <- msg:
				case <-ctx.Done():
					return
				}
			}
		}(r)
	}

	conn.Set(true)
	s.log.WithFields(logrus.Fields{
		"action":     logging.ActionStreamConnected,
		"partitions": len(partitions),
	}).Info("connected to order event topic")

	health := time.NewTicker(s.cfg.HealthInterval)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-failed:
			s.log.WithError(err).WithField("action", logging.ActionStreamDisconnected).Warn("kafka read failed")
			return fmt.Errorf("read: %w", err)
		case <-health.C:
			if _, err := s.lookup(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.log.WithError(err).WithField("action", logging.ActionStreamDisconnected).Warn("kafka health check failed")
				return fmt.Errorf("health check: %w", err)
			}
		case msg := <-msgs:
			evt, err := push.DecodeEvent(msg.Value)
			if err != nil {
				s.log.WithError(err).WithFields(logrus.Fields{
					"action":    logging.ActionMessageFailed,
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("dropping undecodable order event")
				continue
			}
			emit(evt)
		}
	}
}
