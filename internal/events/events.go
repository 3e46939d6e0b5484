package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"vesrates/internal/config"
	"vesrates/internal/rates"
)

// TypeRateChanged is emitted once per history row written.
const TypeRateChanged = "rate.changed"

// RateChanged describes a quotation that moved beyond tolerance.
type RateChanged struct {
	EventID      string           `json:"event_id"`
	Type         string           `json:"type"`
	ExchangeCode string           `json:"exchange_code"`
	CurrencyPair string           `json:"currency_pair"`
	BuyPrice     decimal.Decimal  `json:"buy_price"`
	SellPrice    decimal.Decimal  `json:"sell_price"`
	AvgPrice     decimal.Decimal  `json:"avg_price"`
	Variation24h decimal.Decimal  `json:"variation_24h"`
	Volume24h    *decimal.Decimal `json:"volume_24h,omitempty"`
	Source       string           `json:"source"`
	TradeType    rates.TradeType  `json:"trade_type"`
	OccurredAt   time.Time        `json:"occurred_at"`
}

// NewRateChanged builds an event for a persisted candidate.
func NewRateChanged(c rates.Candidate, variation decimal.Decimal, at time.Time) RateChanged {
	return RateChanged{
		EventID:      uuid.NewString(),
		Type:         TypeRateChanged,
		ExchangeCode: rates.CanonicalExchange(c.ExchangeCode),
		CurrencyPair: rates.CanonicalPair(c.CurrencyPair),
		BuyPrice:     c.BuyPrice,
		SellPrice:    c.SellPrice,
		AvgPrice:     c.AvgPrice,
		Variation24h: variation,
		Volume24h:    c.Volume24h,
		Source:       c.Source,
		TradeType:    c.TradeType,
		OccurredAt:   at.UTC(),
	}
}

// Publisher delivers rate events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, events ...RateChanged) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON, keyed by exchange and pair so a
// partition sees one pair's events in order.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
	logger  zerolog.Logger
}

// NewKafkaPublisher constructs a publisher for cfg.Topic.
func NewKafkaPublisher(cfg config.EventsConfig, logger zerolog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("events.brokers is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("events.topic is required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		WriteTimeout:           cfg.WriteTimeout,
	}
	return newKafkaPublisher(writer, cfg.WriteTimeout, logger), nil
}

func newKafkaPublisher(w messageWriter, timeout time.Duration, logger zerolog.Logger) *KafkaPublisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &KafkaPublisher{
		writer:  w,
		timeout: timeout,
		logger:  logger.With().Str("component", "kafka_publisher").Logger(),
	}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, events ...RateChanged) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		value, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode %s event: %w", ev.Type, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.ExchangeCode + ":" + ev.CurrencyPair),
			Value: value,
			Time:  ev.OccurredAt,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(ev.Type)},
				{Key: "event_id", Value: []byte(ev.EventID)},
			},
		})
	}

	writeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(writeCtx, msgs...); err != nil {
		return fmt.Errorf("publish %d events: %w", len(msgs), err)
	}
	p.logger.Debug().Int("events", len(msgs)).Msg("rate events published")
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, ...RateChanged) error { return nil }
func (Nop) Close() error { return nil }

// Open returns a kafka publisher when events are enabled, otherwise Nop.
func Open(cfg config.EventsConfig, logger zerolog.Logger) (Publisher, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	p, err := NewKafkaPublisher(cfg, logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = Nop{}
)
