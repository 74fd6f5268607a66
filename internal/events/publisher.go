package events

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"social_chat/pkg/logger"
)

// Типы доменных событий. Их читает внешний сервис push-уведомлений.
const (
	TypeMessageSent   = "message.sent"
	TypeCallInitiated = "call.initiated"
	TypeCallStatus    = "call.status"
	TypeRoomEnded     = "room.ended"
)

type Event struct {
	Type       string      `json:"type"`
	Key        string      `json:"key"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

type Publisher interface {
	// Publish - best effort: ошибка возвращается, но вызывающий не откатывает из-за нее запись
	Publish(ctx context.Context, event Event) error
	Close() error
}

// KafkaPublisher пишет события в один топик; ключ - id беседы или звонка,
// чтобы события одной сущности шли в одну партицию по порядку.
type KafkaPublisher struct {
	writer *kafkago.Writer
	log    logger.Logger
}

func NewKafkaPublisher(brokers []string, topic string, log logger.Logger) *KafkaPublisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaPublisher{writer: w, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafkago.Message{
		Key:   []byte(event.Key),
		Value: b,
		Time:  event.OccurredAt,
		Headers: []kafkago.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("Failed to publish event", "error", err, "type", event.Type, "key", event.Key)
		return err
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher - когда брокеры не настроены
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
