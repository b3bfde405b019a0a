package broker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/IliaW/recipe-box/config"
	"github.com/IliaW/recipe-box/internal/model"
	"github.com/segmentio/kafka-go"
)

// createTestLogger creates a logger for testing
func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]kafka.Message
	closed  bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches = append(w.batches, append([]kafka.Message(nil), msgs...))
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func (w *fakeWriter) messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	var all []kafka.Message
	for _, b := range w.batches {
		all = append(all, b...)
	}
	return all
}

type fakeReader struct {
	msgs   chan kafka.Message
	closed bool
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func TestProducerFlushesOnClose(t *testing.T) {
	msgChan := make(chan *model.Message, 10)
	wg := &sync.WaitGroup{}
	cfg := &config.ProducerConfig{BatchSize: 100, BatchTimeout: time.Hour, WriteTimeout: time.Second}
	p := NewKafkaProducer(msgChan, cfg, createTestLogger(), wg)
	w := &fakeWriter{}

	wg.Add(1)
	go p.run(w)

	msgChan <- &model.Message{Topic: "recipe-events", Key: "r1",
		Value: &model.RecipeEvent{Type: model.RecipeCreated, Recipe: &model.Recipe{ID: "r1"}}}
	msgChan <- &model.Message{Topic: "recipe-enrich", Key: "r2", Value: &model.EnrichTask{RecipeID: "r2"}}
	close(msgChan)
	wg.Wait()

	got := w.messages()
	if len(got) != 2 {
		t.Fatalf("wrote %d messages, want 2", len(got))
	}
	if got[0].Topic != "recipe-events" || string(got[0].Key) != "r1" {
		t.Errorf("first message = %s/%s", got[0].Topic, got[0].Key)
	}
	if got[1].Topic != "recipe-enrich" || string(got[1].Value) != `{"recipe_id":"r2","url":""}` {
		t.Errorf("second message = %s %s", got[1].Topic, got[1].Value)
	}
	if !w.closed {
		t.Error("writer not closed")
	}
}

func TestProducerWritesFullBatches(t *testing.T) {
	msgChan := make(chan *model.Message)
	wg := &sync.WaitGroup{}
	cfg := &config.ProducerConfig{BatchSize: 2, BatchTimeout: time.Hour, WriteTimeout: time.Second}
	p := NewKafkaProducer(msgChan, cfg, createTestLogger(), wg)
	w := &fakeWriter{}

	wg.Add(1)
	go p.run(w)
	for i := 0; i < 5; i++ {
		msgChan <- &model.Message{Topic: "t", Key: "k", Value: i}
	}
	close(msgChan)
	wg.Wait()

	if len(w.batches) != 3 {
		t.Fatalf("wrote %d batches, want 3", len(w.batches))
	}
	if len(w.batches[0]) != 2 || len(w.batches[2]) != 1 {
		t.Errorf("unexpected batch sizes: %d, %d", len(w.batches[0]), len(w.batches[2]))
	}
}

func TestConsumerDeliversTasksAndClosesChannel(t *testing.T) {
	taskChan := make(chan *model.EnrichTask, 10)
	wg := &sync.WaitGroup{}
	c := NewKafkaConsumer(taskChan, &config.ConsumerConfig{ReadTopicName: "recipe-enrich"}, createTestLogger(), wg)
	r := &fakeReader{msgs: make(chan kafka.Message, 10)}
	r.msgs <- kafka.Message{Value: []byte(`{"recipe_id":"r1","url":"https://example.com/soup"}`)}
	r.msgs <- kafka.Message{Value: []byte(`not json`)}
	r.msgs <- kafka.Message{Value: []byte(`{"url":"https://example.com/no-id"}`)}
	r.msgs <- kafka.Message{Value: []byte(`{"recipe_id":"r2"}`)}

	ctx, cancel := context.WithCancel(context.Background())
	wg.Add(1)
	go c.run(ctx, r)

	var got []*model.EnrichTask
	for len(got) < 2 {
		select {
		case task := <-taskChan:
			got = append(got, task)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d tasks, want 2", len(got))
		}
	}
	cancel()
	wg.Wait()

	if got[0].RecipeID != "r1" || got[0].URL != "https://example.com/soup" || got[1].RecipeID != "r2" {
		t.Errorf("unexpected tasks: %+v %+v", got[0], got[1])
	}
	if _, ok := <-taskChan; ok {
		t.Error("taskChan not closed")
	}
	if !r.closed {
		t.Error("reader not closed")
	}
}

func TestConsumerStopsWhileWaiting(t *testing.T) {
	taskChan := make(chan *model.EnrichTask)
	wg := &sync.WaitGroup{}
	c := NewKafkaConsumer(taskChan, &config.ConsumerConfig{}, createTestLogger(), wg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	wg.Add(1)
	go c.run(ctx, &fakeReader{msgs: make(chan kafka.Message)})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		t.Fatalf("unexpected ctx state: %v", ctx.Err())
	}
}
