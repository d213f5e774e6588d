package events

import (
	"context"

	"github.com/majiajue/longbridge-sub000/internal/adapters/kafka"
	"github.com/majiajue/longbridge-sub000/pkg/logger"
)

// Publisher mirrors selected broadcast messages onto the Kafka bus so
// downstream analytics can consume them independently of connected
// observers. Nil producer disables the mirror.
type Publisher struct {
	producer *kafka.Producer
	log      *logger.Logger
}

// NewPublisher creates an event publisher. producer may be nil.
func NewPublisher(producer *kafka.Producer) *Publisher {
	return &Publisher{
		producer: producer,
		log:      logger.Get().With("component", "event_publisher"),
	}
}

// PublishTradeSignal exports a produced trade signal.
func (p *Publisher) PublishTradeSignal(ctx context.Context, signal TradeSignalPayload) {
	p.publish(ctx, kafka.TopicTradingEvents, signal.Symbol, NewMessage(TypeTradeSignal, signal))
}

// PublishPortfolioUpdate exports a position open/close/refresh notice.
func (p *Publisher) PublishPortfolioUpdate(ctx context.Context, update PortfolioUpdatePayload) {
	p.publish(ctx, kafka.TopicTradingEvents, update.Symbol, NewMessage(TypePortfolioUpdate, update))
}

// PublishRiskNotice exports a risk gate notification.
func (p *Publisher) PublishRiskNotice(ctx context.Context, notice NotificationPayload) {
	p.publish(ctx, kafka.TopicRiskEvents, notice.Symbol, NewMessage(TypeNotification, notice))
}

// publish is fire-and-forget: export failures are logged and never
// propagate into the trading path.
func (p *Publisher) publish(ctx context.Context, topic, key string, msg Message) {
	if p == nil || p.producer == nil {
		return
	}
	if err := p.producer.Publish(ctx, topic, key, msg); err != nil {
		p.log.Warnw("Event export failed", "topic", topic, "key", key, "error", err)
	}
}
