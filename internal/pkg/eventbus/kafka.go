package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayMirror/internal/pkg/billing"
	"github.com/ManuelReschke/PayMirror/internal/pkg/env"
)

const defaultPaymentsTopic = "payment-events"

// KafkaPublisher publishes payment outcome events. Messages are keyed by the
// gateway attempt id so all events of one attempt land on one partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	if topic == "" {
		topic = defaultPaymentsTopic
	}
	return &KafkaPublisher{producer: producer, topic: topic}
}

// NewProducerConfig returns the producer settings used for outcome events.
func NewProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "paymirror"
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	return config
}

// NewKafkaPublisherFromEnv connects to KAFKA_BROKERS. It returns nil and no
// error when no brokers are configured.
func NewKafkaPublisherFromEnv() (*KafkaPublisher, error) {
	brokers := env.GetEnvList("KAFKA_BROKERS", nil)
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	log.Infof("[EventBus] Kafka producer initialized (%d brokers)", len(brokers))
	return NewKafkaPublisher(producer, env.GetEnv("KAFKA_TOPIC_PAYMENTS", defaultPaymentsTopic)), nil
}

func (p *KafkaPublisher) PublishPaymentOutcome(ctx context.Context, event billing.PaymentOutcomeEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.ExternalID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.EventType)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	log.Debugf("[EventBus] Published %s for %s to %s[%d]@%d", event.EventType, event.ExternalID, p.topic, partition, offset)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
