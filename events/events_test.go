package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestPublishReachesSubscribers(t *testing.T) {
	bus := NewBus()
	ch1, cancel1 := bus.Subscribe()
	defer cancel1()
	ch2, cancel2 := bus.Subscribe()
	defer cancel2()

	ev := Event{Type: NotePosted, ActorId: uuid.New(), NoteId: uuid.New()}
	bus.Publish(ev)

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got.Type != NotePosted || got.NoteId != ev.NoteId {
				t.Errorf("subscriber %d got %+v", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	cancel()

	bus.Publish(Event{Type: Followed})
	select {
	case _, open := <-ch:
		if open {
			t.Error("cancelled channel should be closed or empty")
		}
	default:
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		// far beyond the buffer; a slow subscriber loses events but the
		// publisher keeps going
		for i := 0; i < 1000; i++ {
			bus.Publish(Event{Type: PollVoted, Choice: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}
