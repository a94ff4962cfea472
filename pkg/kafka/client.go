// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"answer-desk/internal/config"
	"answer-desk/pkg/log"

	"github.com/segmentio/kafka-go"
)

// BatchHandler 处理一批已拉取的消息，返回尚未处理妥当的消息。
// 这些消息及同一分区中位于其后的消息都不会被提交，消费者会回退到已提交位置重新拉取。
type BatchHandler interface {
	HandleBatch(ctx context.Context, msgs []kafka.Message) (pending []kafka.Message)
}

// messageReader 是消费循环用到的 kafka.Reader 子集。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer 将消息变更事件写入 Kafka。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。按 key 哈希分区，保证同一条消息的事件有序。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Publish 以 JSON 编码 value 并写入 Kafka。
func (p *Producer) Publish(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
	})
}

// Close 关闭生产者并刷新缓冲区。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// StartConsumer 启动消费循环：按批拉取消息交给 handler，只提交已处理妥当的部分。
// ctx 取消时退出，未提交的消息在下次启动时重新投递。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, handler BatchHandler) {
	newReader := func() messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  strings.Split(cfg.Brokers, ","),
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6, // 10MB
		})
	}
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)
	c := &consumer{
		newReader:  newReader,
		handler:    handler,
		batchSize:  cfg.BatchSize,
		batchWait:  cfg.BatchWait,
		retryDelay: time.Second,
	}
	c.run(ctx)
}

type consumer struct {
	newReader  func() messageReader
	handler    BatchHandler
	batchSize  int
	batchWait  time.Duration
	retryDelay time.Duration
}

func (c *consumer) run(ctx context.Context) {
	r := c.newReader()
	defer func() {
		if r == nil {
			return
		}
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		batch, err := fetchBatch(ctx, r, c.batchSize, c.batchWait)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				log.Info("Kafka 消费者收到退出信号")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			if !c.sleep(ctx) {
				return
			}
			continue
		}

		log.Infof("收到 Kafka 消息批次: %d 条, 首条 offset %d", len(batch), batch[0].Offset)
		pending := c.handler.HandleBatch(ctx, batch)
		if ctx.Err() != nil {
			// 停机时批次可能只处理了一部分，整批留待重新投递
			log.Warnf("Kafka 消费者在处理批次时收到退出信号，本批 offset 不提交")
			return
		}

		done := Committable(batch, pending)
		if len(done) > 0 {
			if err := r.CommitMessages(context.Background(), done...); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
		if len(pending) == 0 {
			continue
		}

		// 有消息未处理妥当：重建 reader，从已提交的位置重新拉取
		log.Warnf("本批有 %d 条消息未处理妥当，%s 后从已提交 offset 重新拉取", len(pending), c.retryDelay)
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
		r = nil
		if !c.sleep(ctx) {
			return
		}
		r = c.newReader()
	}
}

func (c *consumer) sleep(ctx context.Context) bool {
	t := time.NewTimer(c.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Committable 返回 batch 中可以安全提交的消息：每个分区只保留
// 最早一条 pending 消息之前的部分。
func Committable(batch, pending []kafka.Message) []kafka.Message {
	firstPending := make(map[int]int64, len(pending))
	for _, m := range pending {
		if off, ok := firstPending[m.Partition]; !ok || m.Offset < off {
			firstPending[m.Partition] = m.Offset
		}
	}
	out := make([]kafka.Message, 0, len(batch))
	for _, m := range batch {
		if off, ok := firstPending[m.Partition]; ok && m.Offset >= off {
			continue
		}
		out = append(out, m)
	}
	return out
}

// fetchBatch 阻塞等待第一条消息，然后在 wait 窗口内尽量凑满 size 条。
func fetchBatch(ctx context.Context, r messageReader, size int, wait time.Duration) ([]kafka.Message, error) {
	first, err := r.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	batch := []kafka.Message{first}
	if size <= 1 {
		return batch, nil
	}

	windowCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	for len(batch) < size {
		m, err := r.FetchMessage(windowCtx)
		if err != nil {
			break
		}
		batch = append(batch, m)
	}
	return batch, nil
}
