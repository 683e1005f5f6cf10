// Package notify implements the wake-up channel half of the job store's
// push/pull hybrid dispatch: a best-effort "new job available" signal per
// worker_type, adapted from the teacher's internal/kafka producer/consumer
// pair. It is never the only path to a job — the worker runtime's poll
// ticker is always the backstop per §4.2/§6.
package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

func wakeupTopic(prefix, jobType string) string {
	return fmt.Sprintf("%s.wakeup.%s", prefix, jobType)
}

// KafkaNotifier publishes a one-byte wake-up message to channel
// new_job_<type> (modeled as its own Kafka topic) whenever a job is
// enqueued or rescheduled. Adapted from internal/kafka/producer.go.
type KafkaNotifier struct {
	writer      *kafka.Writer
	topicPrefix string
}

func NewKafkaNotifier(brokers []string, topicPrefix string) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
	}
	log.Info().Strs("brokers", brokers).Str("topic_prefix", topicPrefix).Msg("wake-up notifier initialized")
	return &KafkaNotifier{writer: writer, topicPrefix: topicPrefix}
}

func (n *KafkaNotifier) Publish(ctx context.Context, jobType string) error {
	msg := kafka.Message{
		Topic: wakeupTopic(n.topicPrefix, jobType),
		Value: []byte("1"),
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish wake-up for %s: %w", jobType, err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// KafkaSubscriber lets a worker runtime listen for wake-ups on its
// worker_type. Each instance subscribes with its own consumer group so
// every running instance observes every wake-up (broadcast, not
// competing-consumer semantics) — adapted from internal/kafka/consumer.go,
// simplified: a wake-up carries no payload, so there is nothing to decode
// or retry, only a channel send.
type KafkaSubscriber struct {
	brokers     []string
	topicPrefix string
}

func NewKafkaSubscriber(brokers []string, topicPrefix string) *KafkaSubscriber {
	return &KafkaSubscriber{brokers: brokers, topicPrefix: topicPrefix}
}

// Listen starts a background reader and returns a channel that receives a
// value when wake-ups are observed after Listen was called; a wake-up that
// arrives while one is already pending is merged into it. The returned
// closer must be called on shutdown.
func (s *KafkaSubscriber) Listen(ctx context.Context, jobType, instanceID string) (<-chan struct{}, func() error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     s.brokers,
		Topic:       wakeupTopic(s.topicPrefix, jobType),
		GroupID:     fmt.Sprintf("%s-wakeup-%s-%s", s.topicPrefix, jobType, instanceID),
		MinBytes:    1,
		MaxBytes:    1 << 16,
		StartOffset: kafka.LastOffset,
	})

	ch := make(chan struct{}, 1)
	go func() {
		for {
			_, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn().Err(err).Str("job_type", jobType).Msg("wake-up subscriber read failed, relying on poll interval")
				continue
			}
			select {
			case ch <- struct{}{}:
			default:
				// already pending a wake-up; the claim loop will drain the queue
			}
		}
	}()

	return ch, reader.Close
}
