package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestProducerPublishEncodesJobKeyedByAgentID(t *testing.T) {
	fw := &fakeWriter{}
	p := NewProducer(fw, "memoria.memorise.commands")

	job := Job{
		AgentID:  "agent-1",
		UserID:   "user-1",
		Messages: []JobMessage{{Content: "hello", ImageRefs: []string{"img-1"}}},
	}
	require.NoError(t, p.Publish(context.Background(), job))
	require.Len(t, fw.msgs, 1)

	msg := fw.msgs[0]
	require.Equal(t, "memoria.memorise.commands", msg.Topic)
	require.Equal(t, "agent-1", string(msg.Key))

	var got Job
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	require.Equal(t, job, got)
}

func TestProducerPublishPropagatesWriterError(t *testing.T) {
	fw := &fakeWriter{err: context.DeadlineExceeded}
	p := NewProducer(fw, "commands")

	err := p.Publish(context.Background(), Job{AgentID: "agent-1"})
	require.Error(t, err)
}

func TestNewKafkaWriterRejectsEmptyBrokers(t *testing.T) {
	_, err := NewKafkaWriter("  ")
	require.Error(t, err)
}

func TestNewKafkaWriterParsesBrokerList(t *testing.T) {
	w, err := NewKafkaWriter("broker-a:9092, broker-b:9092")
	require.NoError(t, err)
	require.NotNil(t, w)
}
