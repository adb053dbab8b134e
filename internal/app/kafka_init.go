package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backoffice/internal/cache"
	"github.com/vladislavdragonenkov/backoffice/internal/domain"
	"github.com/vladislavdragonenkov/backoffice/internal/messaging/kafka"
)

const consumerMaxRetries = 3

// initKafkaProducer создаёт producer, если заданы брокеры; ошибка не останавливает сервис.
func initKafkaProducer(cfg Config, logger *log.Entry) *kafka.Producer {
	if !cfg.KafkaEnabled() {
		logger.Info("kafka brokers are not configured, outbox events are only logged")
		return nil
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers, kafka.WithClientID(cfg.KafkaClientID))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil
	}
	logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")
	return producer
}

// outboxPublishers возвращает основной publisher и DLQ-publisher для outbox-воркера.
func outboxPublishers(cfg Config, producer *kafka.Producer, logger *log.Entry) (domain.OutboxPublisher, domain.OutboxPublisher) {
	if producer == nil {
		return loggingPublisher{logger: logger.WithField("component", "outbox-log")}, nil
	}
	return kafka.NewOutboxPublisher(producer, cfg.KafkaOrderTopic), kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)
}

// startCacheInvalidator подписывается на события заказов и сбрасывает кэш других реплик.
func startCacheInvalidator(ctx context.Context, cfg Config, producer *kafka.Producer, c cache.Cache, logger *log.Entry) *kafka.Consumer {
	if producer == nil {
		return nil
	}

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:    cfg.KafkaBrokers,
		GroupID:    cfg.KafkaConsumerGroup,
		Topics:     []string{cfg.KafkaOrderTopic},
		DLQ:        producer,
		DLQTopic:   cfg.KafkaDLQTopic,
		MaxRetries: consumerMaxRetries,
	}, kafka.CacheInvalidator(c))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka consumer, cache invalidation stays local")
		return nil
	}
	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Warn("failed to start kafka consumer")
		return nil
	}
	return consumer
}

func closeKafka(producer *kafka.Producer, consumer *kafka.Consumer, logger *log.Entry) {
	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop kafka consumer")
		}
	}
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// loggingPublisher разгружает outbox без брокера.
type loggingPublisher struct {
	logger *log.Entry
}

func (p loggingPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"outbox_id":    event.ID,
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
	}).Debug("order event")
	return nil
}
