package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var messagesProduced = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "backoffice_kafka_messages_produced_total",
	Help: "Messages written to Kafka grouped by topic and result.",
}, []string{"topic", "result"})

// ProducerOption меняет sarama-конфигурацию producer'а.
type ProducerOption func(*sarama.Config)

func WithClientID(id string) ProducerOption {
	return func(cfg *sarama.Config) {
		if id != "" {
			cfg.ClientID = id
		}
	}
}

// WithCompression задаёт кодек сжатия; по умолчанию snappy.
func WithCompression(codec sarama.CompressionCodec) ProducerOption {
	return func(cfg *sarama.Config) { cfg.Producer.Compression = codec }
}

// Producer пишет события заказов синхронно: вызов возвращается после подтверждения всех реплик.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
}

// NewProducer подключается к брокерам. Ключ сообщения хешируется в партицию,
// поэтому события одного заказа сохраняют порядок.
func NewProducer(brokers []string, opts ...ProducerOption) (*Producer, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "backoffice"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Net.MaxOpenRequests = 1
	for _, opt := range opts {
		opt(cfg)
	}

	sync, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer to %v: %w", brokers, err)
	}
	return NewProducerFromSync(sync), nil
}

// NewProducerFromSync оборачивает готовый SyncProducer (в тестах mocks.SyncProducer).
func NewProducerFromSync(sync sarama.SyncProducer) *Producer {
	return &Producer{sync: sync, logger: log.WithField("component", "kafka-producer")}
}

// Send пишет value в topic. Заголовки дополняются trace context из ctx
// и передаются в детерминированном порядке.
func (p *Producer) Send(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	carrier := propagation.MapCarrier{}
	for k, v := range headers {
		carrier[k] = v
	}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	keys := carrier.Keys()
	slices.Sort(keys)
	recordHeaders := make([]sarama.RecordHeader, 0, len(keys))
	for _, k := range keys {
		recordHeaders = append(recordHeaders, sarama.RecordHeader{Key: []byte(k), Value: []byte(carrier[k])})
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Headers:   recordHeaders,
		Timestamp: time.Now().UTC(),
	}

	entry := p.logger.WithFields(log.Fields{"topic": topic, "key": key})
	partition, offset, err := p.sync.SendMessage(msg)
	if err != nil {
		messagesProduced.WithLabelValues(topic, "error").Inc()
		entry.WithError(err).Error("kafka write failed")
		return fmt.Errorf("write to %s: %w", topic, err)
	}

	messagesProduced.WithLabelValues(topic, "ok").Inc()
	entry.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("kafka write acknowledged")
	return nil
}

// SendJSON кодирует value в JSON и вызывает Send.
func (p *Producer) SendJSON(ctx context.Context, topic, key string, value any, headers map[string]string) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode message for %s: %w", topic, err)
	}
	return p.Send(ctx, topic, key, body, headers)
}

func (p *Producer) Close() error {
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
