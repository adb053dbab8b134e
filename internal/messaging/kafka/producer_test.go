package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func headerValue(msg *sarama.ProducerMessage, key string) string {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestProducer_SendJSON(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicOrderEvents {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "order-1" {
			return fmt.Errorf("unexpected key %s", key)
		}
		if got := headerValue(msg, HeaderEventType); got != "order.created" {
			return fmt.Errorf("unexpected event type header %q", got)
		}
		return nil
	})

	producer := NewProducerFromSync(mock)
	err := producer.SendJSON(context.Background(), TopicOrderEvents, "order-1",
		map[string]string{"status": "PENDING"},
		map[string]string{HeaderEventType: "order.created"},
	)
	require.NoError(t, err)
	require.NoError(t, mock.Close())
}

func TestProducer_SendPropagatesTraceContext(t *testing.T) {
	previous := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(previous) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		want := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
		if got := headerValue(msg, "traceparent"); got != want {
			return fmt.Errorf("traceparent = %q, want %q", got, want)
		}
		return nil
	})

	require.NoError(t, NewProducerFromSync(mock).Send(ctx, TopicOrderEvents, "k", []byte(`{}`), nil))
	require.NoError(t, mock.Close())
}

func TestProducer_SendError(t *testing.T) {
	const topic = "backoffice.test.errors"
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := NewProducerFromSync(mock).Send(context.Background(), topic, "k", []byte(`{}`), nil)
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	metric := &dto.Metric{}
	require.NoError(t, messagesProduced.WithLabelValues(topic, "error").Write(metric))
	require.Equal(t, float64(1), metric.GetCounter().GetValue())
	require.NoError(t, mock.Close())
}

func TestProducer_HeadersAreSorted(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		var keys []string
		for _, h := range msg.Headers {
			keys = append(keys, string(h.Key))
		}
		want := []string{HeaderAggregateType, HeaderEventID, HeaderEventType}
		if fmt.Sprint(keys) != fmt.Sprint(want) {
			return fmt.Errorf("headers %v, want %v", keys, want)
		}
		return nil
	})

	err := NewProducerFromSync(mock).Send(context.Background(), TopicOrderEvents, "order-1", []byte(`{}`), map[string]string{
		HeaderEventType:     "order.created",
		HeaderEventID:       "evt-1",
		HeaderAggregateType: "order",
	})
	require.NoError(t, err)
	require.NoError(t, mock.Close())
}

func TestProducerOptions(t *testing.T) {
	cfg := sarama.NewConfig()
	WithClientID("")(cfg)
	require.Equal(t, sarama.NewConfig().ClientID, cfg.ClientID)

	WithClientID("backoffice-test")(cfg)
	WithCompression(sarama.CompressionZSTD)(cfg)
	require.Equal(t, "backoffice-test", cfg.ClientID)
	require.Equal(t, sarama.CompressionZSTD, cfg.Producer.Compression)
}

func TestProducer_SendJSONMarshalError(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	err := NewProducerFromSync(mock).SendJSON(context.Background(), TopicOrderEvents, "k", make(chan int), nil)
	require.Error(t, err)
	require.NoError(t, mock.Close())
}

func TestNewEnvelopeHandlesPayloads(t *testing.T) {
	valid := NewEnvelope(outboxMessage("a", []byte(`{"x":1}`)), fixedTime)
	require.JSONEq(t, `{"x":1}`, string(valid.Payload))

	invalid := NewEnvelope(outboxMessage("b", []byte(`not json`)), fixedTime)
	var s string
	require.NoError(t, json.Unmarshal(invalid.Payload, &s))
	require.Equal(t, "not json", s)

	empty := NewEnvelope(outboxMessage("c", nil), fixedTime)
	require.Equal(t, "null", string(empty.Payload))
}
