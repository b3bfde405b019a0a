package broker

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/IliaW/recipe-box/config"
	"github.com/IliaW/recipe-box/internal/model"
	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress/lz4"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type KafkaProducerClient struct {
	msgChan <-chan *model.Message
	cfg     *config.ProducerConfig
	log     *slog.Logger
	wg      *sync.WaitGroup
}

func NewKafkaProducer(msgChan <-chan *model.Message, cfg *config.ProducerConfig, log *slog.Logger,
	wg *sync.WaitGroup) *KafkaProducerClient {
	return &KafkaProducerClient{
		msgChan: msgChan,
		cfg:     cfg,
		log:     log,
		wg:      wg,
	}
}

// Run sends messages from msgChan to kafka. Each message names its own topic.
// After shutdown, it keeps going until msgChan is closed and drained.
func (p *KafkaProducerClient) Run() {
	p.log.Info("starting kafka producer...", slog.String("events", p.cfg.EventsTopicName),
		slog.String("enrich", p.cfg.EnrichTopicName))

	w := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(p.cfg.Addr, ",")...),
		Balancer:     &kafka.Hash{},
		MaxAttempts:  p.cfg.MaxAttempts,
		BatchSize:    1,                // the parameter is controlled by 'batchTicker' variable
		BatchTimeout: time.Millisecond, // the parameter is controlled by 'batch' variable
		ReadTimeout:  p.cfg.ReadTimeout,
		WriteTimeout: p.cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(p.cfg.RequiredAsks),
		Async:        p.cfg.Async,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				p.log.Error("failed to send messages to kafka.", slog.String("err", err.Error()))
			}
		},
		Compression:            kafka.Compression(new(lz4.Codec).Code()),
		AllowAutoTopicCreation: true,
	}
	p.run(w)
}

func (p *KafkaProducerClient) run(w messageWriter) {
	defer p.wg.Done()
	defer func() {
		err := w.Close()
		if err != nil {
			p.log.Error("failed to close kafka writer.", slog.String("err", err.Error()))
		}
	}()

	batchSize := max(p.cfg.BatchSize, 1)
	batchTicker := time.NewTicker(p.cfg.BatchTimeout)
	defer batchTicker.Stop()
	batch := make([]kafka.Message, 0, batchSize)
	writeMessage := func(batch []kafka.Message) {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.WriteTimeout)
		defer cancel()
		err := w.WriteMessages(ctx, batch...)
		if err != nil {
			p.log.Error("failed to send messages to kafka.", slog.String("err", err.Error()))
			return
		}
		p.log.Debug("successfully sent messages to kafka.", slog.Int("batch length", len(batch)))
	}

	for msg := range p.msgChan {
		body, err := json.Marshal(msg.Value)
		if err != nil {
			p.log.Error("marshaling error.", slog.String("err", err.Error()), slog.String("topic", msg.Topic))
			continue
		}
		batch = append(batch, kafka.Message{
			Topic: msg.Topic,
			Key:   []byte(msg.Key),
			Value: body,
		})
		select {
		case <-batchTicker.C:
			writeMessage(batch)
			batch = make([]kafka.Message, 0, batchSize)
		default:
			if len(batch) >= batchSize {
				writeMessage(batch)
				batch = make([]kafka.Message, 0, batchSize)
			}
		}
	}
	// Some messages may remain in the batch after msgChan is closed
	if len(batch) > 0 {
		p.log.Debug("messages in batch.", slog.Int("count", len(batch)))
		writeMessage(batch)
	}
	p.log.Info("stopping kafka writer.")
}

type KafkaConsumerClient struct {
	taskChan chan<- *model.EnrichTask
	cfg      *config.ConsumerConfig
	log      *slog.Logger
	wg       *sync.WaitGroup
}

func NewKafkaConsumer(taskChan chan<- *model.EnrichTask, cfg *config.ConsumerConfig, log *slog.Logger,
	wg *sync.WaitGroup) *KafkaConsumerClient {
	return &KafkaConsumerClient{
		taskChan: taskChan,
		cfg:      cfg,
		log:      log,
		wg:       wg,
	}
}

// Run reads enrichment tasks from kafka and sends them to taskChan.
// It closes taskChan and the reader when the context is done.
func (c *KafkaConsumerClient) Run(ctx context.Context) {
	c.log.Info("starting kafka consumer.", slog.String("topic", c.cfg.ReadTopicName))

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:          strings.Split(c.cfg.Brokers, ","),
		Topic:            c.cfg.ReadTopicName,
		GroupID:          c.cfg.GroupID,
		MaxWait:          c.cfg.MaxWait,
		ReadBatchTimeout: c.cfg.ReadBatchTimeout,
	})
	c.run(ctx, r)
}

func (c *KafkaConsumerClient) run(ctx context.Context, r messageReader) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("stopping kafka reader.")
			err := r.Close()
			if err != nil {
				c.log.Error("failed to close kafka reader.", slog.String("err", err.Error()))
			}
			close(c.taskChan)
			c.log.Info("close taskChan.")
			return
		default:
			m, err := r.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					c.log.Error("failed to read message from kafka.", slog.String("err", err.Error()))
				}
				continue
			}
			c.log.Debug("successfully read messages from kafka.")

			var task model.EnrichTask
			if err = json.Unmarshal(m.Value, &task); err != nil {
				c.log.Error("failed to unmarshal message.", slog.String("err", err.Error()))
				continue
			}
			if task.RecipeID == "" {
				c.log.Warn("enrich task without recipe id. skipping.", slog.String("key", string(m.Key)))
				continue
			}
			c.taskChan <- &task
		}
	}
}
