package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
	"github.com/vladislavdragonenkov/salesledger/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/salesledger/internal/service/outbox"
	"github.com/vladislavdragonenkov/salesledger/internal/service/pricing"
)

// messaging объединяет producer, outbox worker и consumer цен.
type messaging struct {
	producer *kafka.Producer
	worker   *outbox.Worker
	consumer *kafka.Consumer
	logger   *log.Entry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// initMessaging поднимает Kafka-часть, если брокеры заданы; иначе возвращает nil.
func initMessaging(cfg Config, repo domain.OutboxRepository, prices pricing.PriceUpdater, registerer prometheus.Registerer, logger *log.Entry) (*messaging, error) {
	if !cfg.KafkaEnabled() {
		logger.Info("kafka brokers are not configured, outbox stays pending and price events are not consumed")
		return nil, nil
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaClientID)
	if err != nil {
		return nil, fmt.Errorf("init kafka producer: %w", err)
	}
	logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")

	outboxMetrics, err := outbox.NewMetrics(registerer)
	if err != nil {
		_ = producer.Close()
		return nil, fmt.Errorf("register outbox metrics: %w", err)
	}
	worker := outbox.NewWorker(repo, kafka.NewOutboxPublisher(producer, cfg.KafkaOrderTopic), outbox.Config{
		PollInterval:   cfg.OutboxPollInterval,
		BatchSize:      cfg.OutboxBatchSize,
		MaxAttempts:    cfg.OutboxMaxAttempts,
		RetryBaseDelay: cfg.OutboxRetryDelay,
	},
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(kafka.NewDLQPublisher(producer, cfg.KafkaDLQTopic)),
		outbox.WithMetrics(outboxMetrics),
	)

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.KafkaGroupID,
		Topics:   []string{cfg.KafkaPricingTopic},
		DLQTopic: cfg.KafkaDLQTopic,
	}, pricing.NewHandler(prices, logger.WithField("component", "pricing-handler")).Handle, producer)
	if err != nil {
		_ = producer.Close()
		return nil, fmt.Errorf("init pricing consumer: %w", err)
	}

	return &messaging{producer: producer, worker: worker, consumer: consumer, logger: logger}, nil
}

// start запускает worker и consumer до вызова stop.
func (m *messaging) start(ctx context.Context) {
	if m == nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.worker.Run(ctx)
	}()
	m.consumer.Start(ctx)
}

// stop останавливает consumer, дожидается worker и закрывает producer последним.
func (m *messaging) stop() {
	if m == nil {
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	if err := m.consumer.Stop(); err != nil {
		m.logger.WithError(err).Warn("failed to stop pricing consumer")
	}
	m.wg.Wait()
	closeKafka(m.producer, m.logger)
}

// closeKafka закрывает producer, если он есть.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}
