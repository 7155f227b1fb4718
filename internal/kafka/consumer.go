package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/IBM/sarama"

	"github.com/homecooks/mealmarket/internal/models"
)

// EventHandler receives every decoded order event from the chef feed.
type EventHandler func(ctx context.Context, ev models.OrderEvent) error

type ConsumerGroupHandler struct {
	handle EventHandler
}

func NewConsumerGroupHandler(handle EventHandler) ConsumerGroupHandler {
	return ConsumerGroupHandler{handle: handle}
}

func (ConsumerGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (ConsumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h ConsumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := h.consume(session.Context(), msg); err != nil {
			log.Printf("Skipping message topic=%s partition=%d offset=%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// consume decodes one message. Undecodable messages are reported and
// still marked, so a poison message cannot stall the partition.
func (h ConsumerGroupHandler) consume(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev models.OrderEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("decode order event: %w", err)
	}
	if ev.OrderID == "" {
		return errors.New("order event without order id")
	}
	if h.handle == nil {
		log.Printf("Consumed %s for order %s (chef %s): status=%s", ev.Type, ev.OrderID, ev.ChefID, ev.Status)
		return nil
	}
	return h.handle(ctx, ev)
}

// LogEvent is the default chef feed handler.
func LogEvent(_ context.Context, ev models.OrderEvent) error {
	log.Printf("chef %s: order %s is %s (%s)", ev.ChefID, ev.OrderID, ev.Status, ev.Type)
	return nil
}

// StartSaramaConsumer consumes topics until ctx is done.
func StartSaramaConsumer(ctx context.Context, cfg *sarama.Config, brokers []string, groupID string, topics []string, handler sarama.ConsumerGroupHandler) error {
	consumerGroup, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() {
		if err := consumerGroup.Close(); err != nil {
			log.Printf("Error closing consumer group: %v", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := consumerGroup.Consume(ctx, topics, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return nil
				}
				log.Printf("Error from consumer: %v", err)
			}
		}
	}
}
