package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/mohammed-shakir/survey-spatial-api/internal/core/model"
)

func expectEvent(want Event) mocks.MessageChecker {
	return func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		if string(key) != want.Survey {
			return fmt.Errorf("key=%q want %q", key, want.Survey)
		}
		b, _ := msg.Value.Encode()
		var got Event
		if err := json.Unmarshal(b, &got); err != nil {
			return err
		}
		if got.Type != want.Type || got.ID != want.ID || got.Count != want.Count {
			return fmt.Errorf("event=%+v want %+v", got, want)
		}
		return nil
	}
}

func TestPublisher_SendsLifecycleEvents(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, ProducerConfig())
	mp.ExpectInputWithMessageCheckerFunctionAndSucceed(expectEvent(Event{Type: TypeCreated, Survey: "s1", ID: "r1"}))
	mp.ExpectInputWithMessageCheckerFunctionAndSucceed(expectEvent(Event{Type: TypeDeleted, Survey: "s1", ID: "r1"}))
	mp.ExpectInputWithMessageCheckerFunctionAndSucceed(expectEvent(Event{Type: TypeCleared, Survey: "s1", Count: 4}))

	p := NewWithProducer(mp, "survey.responses", 8, nil)
	ctx := context.Background()
	p.Created(ctx, model.Response{ID: "r1", Survey: "s1", Created: time.Now()})
	p.Deleted(ctx, "s1", "r1")
	p.Cleared(ctx, "s1", 4)

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPublisher_DropsWhenQueueIsFull(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, ProducerConfig())
	mp.ExpectInputAndSucceed()
	mp.ExpectInputAndSucceed()

	p := newPublisher(mp, "t", 2, nil)
	for i := range 5 {
		p.Publish(Event{Type: TypeCreated, Survey: "s", ID: fmt.Sprint(i)})
	}
	if got := len(p.events); got != 2 {
		t.Fatalf("queued=%d want 2", got)
	}
	p.start()
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPublisher_ProducerErrorsDoNotBlock(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, ProducerConfig())
	mp.ExpectInputAndFail(errors.New("broker down"))

	p := NewWithProducer(mp, "t", 1, nil)
	p.Publish(Event{Type: TypeCreated, Survey: "s"})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPublisher_PublishAfterCloseIsDropped(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, ProducerConfig())
	p := NewWithProducer(mp, "t", 1, nil)
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	p.Publish(Event{Type: TypeCreated, Survey: "s"})
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
