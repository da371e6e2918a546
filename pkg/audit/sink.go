package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tokmz/rtguard/pkg/logger"
	"go.uber.org/zap"
)

// LoggerSink 把事件写成结构化日志
type LoggerSink struct {
	log logger.Logger
}

// NewLoggerSink 创建日志 sink
func NewLoggerSink(log logger.Logger) *LoggerSink {
	return &LoggerSink{log: log.Named("security")}
}

// Emit 实现 Sink
func (s *LoggerSink) Emit(ctx context.Context, e Event) error {
	s.log.WarnContext(ctx, "security event",
		zap.String("event_id", e.ID),
		zap.Time("timestamp", e.Timestamp),
		zap.String("outcome", e.Outcome),
		zap.String("address", e.Address),
		zap.String("namespace", e.Namespace),
		zap.Int64("principal_id", e.PrincipalID),
		zap.String("reason", e.Reason),
	)
	return nil
}

// KafkaSink 通过 sarama 异步生产者写入 Kafka
type KafkaSink struct {
	producer sarama.AsyncProducer
	topic    string
	log      logger.Logger
	done     chan struct{}
	once     sync.Once
}

// NewKafkaSink 连接 brokers 并创建 sink
func NewKafkaSink(brokers []string, topic string, log logger.Logger) (*KafkaSink, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "rtguard"
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaSinkWithProducer(producer, topic, log), nil
}

// NewKafkaSinkWithProducer 使用已有的生产者
func NewKafkaSinkWithProducer(producer sarama.AsyncProducer, topic string, log logger.Logger) *KafkaSink {
	if log == nil {
		log = logger.NewNop()
	}
	s := &KafkaSink{
		producer: producer,
		topic:    topic,
		log:      log.Named("audit.kafka"),
		done:     make(chan struct{}),
	}
	go s.drainErrors()
	return s
}

func (s *KafkaSink) drainErrors() {
	defer close(s.done)
	for perr := range s.producer.Errors() {
		s.log.Error("kafka audit delivery failed",
			zap.String("topic", perr.Msg.Topic),
			zap.Error(perr.Err),
		)
	}
}

// Emit 实现 Sink，按 outcome 分区
func (s *KafkaSink) Emit(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(e.Outcome),
		Value: sarama.ByteEncoder(data),
	}
	select {
	case s.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 等待缓冲消息发送完毕
func (s *KafkaSink) Close() error {
	var err error
	s.once.Do(func() {
		err = s.producer.Close()
		<-s.done
	})
	return err
}

// AMQPPublisher amqp091 Channel 中用到的方法
type AMQPPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink 发布到 RabbitMQ exchange
type AMQPSink struct {
	pub        AMQPPublisher
	exchange   string
	routingKey string
	closers    []func() error
}

// NewAMQPSink 使用已有 channel 创建 sink
func NewAMQPSink(pub AMQPPublisher, exchange, routingKey string) *AMQPSink {
	return &AMQPSink{pub: pub, exchange: exchange, routingKey: routingKey}
}

// DialAMQP 建立连接并声明 topic exchange
func DialAMQP(url, exchange, routingKey string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	s := NewAMQPSink(ch, exchange, routingKey)
	s.closers = []func() error{ch.Close, conn.Close}
	return s, nil
}

// Emit 实现 Sink
func (s *AMQPSink) Emit(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	return s.pub.PublishWithContext(ctx, s.exchange, s.routingKey+"."+e.Outcome, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Timestamp:    e.Timestamp,
		Type:         e.Outcome,
		Body:         body,
	})
}

// Close 关闭 DialAMQP 建立的 channel 与连接
func (s *AMQPSink) Close() error {
	var firstErr error
	for _, c := range s.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}
