// Package events publishes response lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/survey-spatial-api/internal/core/model"
	"github.com/mohammed-shakir/survey-spatial-api/internal/core/observability"
)

const (
	TypeCreated = "response.created"
	TypeDeleted = "response.deleted"
	TypeCleared = "survey.responses.deleted"

	DefaultQueueSize = 1024
)

type Event struct {
	Type     string    `json:"type"`
	Survey   string    `json:"survey"`
	ID       string    `json:"id,omitempty"`
	ParcelID string    `json:"parcel_id,omitempty"`
	Count    int       `json:"count,omitempty"`
	TS       time.Time `json:"ts"`
}

// Publisher queues events and hands them to an async producer. A full
// queue drops the event; Publish never blocks.
type Publisher struct {
	topic  string
	prod   sarama.AsyncProducer
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	events chan Event

	stopped chan struct{}
	errDone chan struct{}
}

func ProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return cfg
}

func NewPublisher(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	prod, err := sarama.NewAsyncProducer(brokers, ProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return NewWithProducer(prod, topic, queueSize, logger), nil
}

// NewWithProducer takes ownership of prod and starts publishing.
func NewWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	p := newPublisher(prod, topic, queueSize, logger)
	p.start()
	return p
}

func newPublisher(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		topic:   topic,
		prod:    prod,
		logger:  logger,
		now:     time.Now,
		events:  make(chan Event, queueSize),
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}
}

func (p *Publisher) start() {
	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				observability.IncEventDropped("marshal")
				p.logger.Error("events: marshal", "err", err, "type", ev.Type)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Survey),
				Value: sarama.ByteEncoder(b),
			}
			observability.IncEventPublished(ev.Type)
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				observability.IncEventDropped("producer")
				p.logger.Warn("events: producer error", "err", err.Err, "topic", p.topic)
			}
		}
	}()
}

func (p *Publisher) Publish(ev Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		observability.IncEventDropped("closed")
		return
	}
	select {
	case p.events <- ev:
	default:
		observability.IncEventDropped("queue_full")
	}
}

func (p *Publisher) Created(_ context.Context, r model.Response) {
	p.Publish(Event{Type: TypeCreated, Survey: r.Survey, ID: r.ID, ParcelID: r.ParcelID, TS: r.Created})
}

func (p *Publisher) Deleted(_ context.Context, surveyID, responseID string) {
	p.Publish(Event{Type: TypeDeleted, Survey: surveyID, ID: responseID, TS: p.now().UTC()})
}

func (p *Publisher) Cleared(_ context.Context, surveyID string, n int) {
	p.Publish(Event{Type: TypeCleared, Survey: surveyID, Count: n, TS: p.now().UTC()})
}

// Close drains the queue and closes the producer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.stopped
	err := p.prod.Close()
	<-p.errDone
	if err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}
