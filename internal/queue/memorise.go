// Package queue implements the Background Memorising Queue (SPEC_FULL.md
// §4.13): the memorising fork described in spec.md §4.7 may be dispatched
// onto a Kafka topic instead of running in-process, so the work survives
// process restarts and scales out onto the `background` agent type. A
// Producer publishes jobs; a Consumer drains them and runs the supplied
// handler, logging failures without ever propagating them to a user reply.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Job is the serialized form of a steploop.Input that needs a memorising
// pass. It mirrors steploop.Input's fields directly rather than importing
// the package, since steploop imports this package for Job and a two-way
// import would cycle.
type Job struct {
	AgentID          string       `json:"agent_id"`
	UserID           string       `json:"user_id"`
	Messages         []JobMessage `json:"messages"`
	ScreenMonitoring bool         `json:"screen_monitoring"`
}

// JobMessage mirrors steploop.IncomingMessage.
type JobMessage struct {
	Content   string   `json:"content"`
	ImageRefs []string `json:"image_refs,omitempty"`
}

// Writer is the subset of *kafka.Writer the Producer needs; narrowed for
// testing with a fake.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Producer publishes memorising Jobs onto the commands topic.
type Producer struct {
	writer Writer
	topic  string
}

// NewProducer builds a Producer writing to topic over writer.
func NewProducer(writer Writer, topic string) *Producer {
	return &Producer{writer: writer, topic: topic}
}

// NewKafkaWriter builds a *kafka.Writer from a comma-separated broker list
// (config.KafkaConfig.Brokers).
func NewKafkaWriter(brokers string) (*kafka.Writer, error) {
	brokers = strings.TrimSpace(brokers)
	if brokers == "" {
		return nil, fmt.Errorf("kafka brokers cannot be empty")
	}
	list := strings.Split(brokers, ",")
	for i, b := range list {
		list[i] = strings.TrimSpace(b)
	}
	return &kafka.Writer{Addr: kafka.TCP(list...), Balancer: &kafka.LeastBytes{}}, nil
}

// Publish enqueues job, keyed by AgentID so a given agent's jobs stay
// ordered within a partition.
func (p *Producer) Publish(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal memorise job: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(job.AgentID),
		Value: payload,
	})
}

// Handler runs one memorising Job; the Step Loop supplies this as a thin
// wrapper around its own (unexported) memorise procedure.
type Handler func(ctx context.Context, job Job)

// Consumer drains the commands topic and runs Handle for each Job. Run
// blocks until ctx is cancelled or the reader errors terminally.
type Consumer struct {
	Reader *kafka.Reader
	Handle Handler
}

// NewConsumer builds a Consumer reading topic with the given consumer group.
func NewConsumer(brokers, topic, group string, handle Handler) *Consumer {
	list := strings.Split(strings.TrimSpace(brokers), ",")
	for i, b := range list {
		list[i] = strings.TrimSpace(b)
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: list,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{Reader: r, Handle: handle}
}

// Run reads Jobs until ctx is cancelled, closing the reader on exit.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.Reader.Close()
	for {
		msg, err := c.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("memorise queue: read failed")
			return err
		}
		var job Job
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			log.Warn().Err(err).Msg("memorise queue: malformed job, dropping")
			continue
		}
		c.Handle(ctx, job)
	}
}
