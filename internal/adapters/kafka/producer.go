// Package kafka publishes trading events to a Kafka bus for downstream
// analytics consumers.
package kafka

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/majiajue/longbridge-sub000/internal/metrics"
	"github.com/majiajue/longbridge-sub000/pkg/errors"
	"github.com/majiajue/longbridge-sub000/pkg/logger"
)

// Topics used by the trading core.
const (
	TopicTradingEvents = "trading.events"
	TopicQuoteArchive  = "trading.quotes"
	TopicRiskEvents    = "trading.risk"
)

// Producer handles Kafka message publishing. Writers are created lazily
// per topic and reused.
type Producer struct {
	mu      sync.Mutex
	writers map[string]*kafka.Writer
	brokers []string
	log     *logger.Logger
}

// ProducerConfig holds producer configuration.
type ProducerConfig struct {
	Brokers []string
}

// NewProducer creates a new Kafka producer.
func NewProducer(cfg ProducerConfig) *Producer {
	return &Producer{
		writers: make(map[string]*kafka.Writer),
		brokers: cfg.Brokers,
		log:     logger.Get().With("component", "kafka_producer"),
	}
}

func (p *Producer) getWriter(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(p.brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	p.writers[topic] = w
	return w
}

// Publish JSON-encodes event and sends it to topic keyed by key.
func (p *Producer) Publish(ctx context.Context, topic, key string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
	}
	if err := p.getWriter(topic).WriteMessages(ctx, msg); err != nil {
		p.log.Errorf("Failed to publish to %s: %v", topic, err)
		metrics.KafkaMessages.WithLabelValues(topic, "error").Inc()
		return errors.Wrap(err, "write kafka message")
	}

	metrics.KafkaMessages.WithLabelValues(topic, "success").Inc()
	p.log.Debugf("Published to %s: %s", topic, key)
	return nil
}

// Close closes all writers.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			p.log.Errorf("Failed to close writer for %s: %v", topic, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	p.writers = make(map[string]*kafka.Writer)
	return firstErr
}
