// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pai-tutor-go/internal/config"
	"pai-tutor-go/pkg/events"
	"pai-tutor-go/pkg/log"

	"github.com/segmentio/kafka-go"
)

// Publisher 发布辅导使用事件。
type Publisher interface {
	Publish(ctx context.Context, ev events.TutorEvent) error
	Close() error
}

// EventSink 持久化消费到的事件，repository.EventRepository 满足该接口。
type EventSink interface {
	Save(ctx context.Context, ev events.TutorEvent) error
}

// messageWriter 是 kafka.Writer 中用到的部分，便于测试替换。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type producer struct {
	writer messageWriter
}

// NewProducer 创建事件生产者。未配置 brokers 时返回 NopPublisher。
// 写入是异步的，不会阻塞辅导请求。
func NewProducer(cfg config.KafkaConfig) Publisher {
	if !cfg.Enabled() {
		log.Info("未配置 Kafka，使用事件将被丢弃")
		return NopPublisher{}
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(cfg.BrokerList()...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
		Async:    true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Warnf("写入 Kafka 事件失败: %d 条, %v", len(messages), err)
			}
		},
	}
	log.Info("Kafka 生产者初始化成功")
	return &producer{writer: w}
}

func (p *producer) Publish(ctx context.Context, ev events.TutorEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal tutor event: %w", err)
	}
	// 以会话 ID 作为 key，同一会话的事件落在同一分区，保持顺序。
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.SessionID), Value: payload})
}

func (p *producer) Close() error {
	return p.writer.Close()
}

// NopPublisher 丢弃所有事件。
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, events.TutorEvent) error { return nil }
func (NopPublisher) Close() error                                     { return nil }

// messageReader 是 kafka.Reader 中用到的部分。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const maxSaveAttempts = 3

// StartConsumer 启动消费者，把事件写入 sink，直到 ctx 结束。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, sink EventSink) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.BrokerList(),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)
	consume(ctx, r, sink, time.Second)
}

func consume(ctx context.Context, r messageReader, sink EventSink, backoff time.Duration) {
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("从 Kafka 读取消息失败", err)
			}
			return
		}

		var ev events.TutorEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, offset: %d", err, m.Offset)
			// 消息格式错误，直接提交，避免阻塞队列
			commit(ctx, r, m)
			continue
		}

		if err := saveWithRetry(ctx, sink, ev, backoff); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorf("事件多次写入失败(>=%d)，提交 offset 放弃: type=%s, session=%s, err=%v",
				maxSaveAttempts, ev.Type, ev.SessionID, err)
		}
		commit(ctx, r, m)
	}
}

func saveWithRetry(ctx context.Context, sink EventSink, ev events.TutorEvent, backoff time.Duration) error {
	var err error
	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		if err = sink.Save(ctx, ev); err == nil {
			return nil
		}
		log.Warnf("写入事件失败(第 %d 次): %v", attempt, err)
		if attempt == maxSaveAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff * time.Duration(attempt)):
		}
	}
	return err
}

func commit(ctx context.Context, r messageReader, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
