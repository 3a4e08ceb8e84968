package bus

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestBus_PublishReachesSubscribedTopic(t *testing.T) {
	b := New(0, zap.NewNop())
	ch, unsub := b.Subscribe(4, TopicAgent)
	defer unsub()

	b.Publish(Event{Topic: TopicAgent, Type: "registered", AgentID: "a1"})

	select {
	case ev := <-ch:
		if ev.AgentID != "a1" || ev.Type != "registered" {
			t.Errorf("got event %+v", ev)
		}
		if ev.Time.IsZero() {
			t.Error("publish must stamp the event time")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_TopicIsolation(t *testing.T) {
	b := New(0, zap.NewNop())
	agentCh, unsub1 := b.Subscribe(4, TopicAgent)
	defer unsub1()
	metricsCh, unsub2 := b.Subscribe(4, TopicMetrics)
	defer unsub2()

	b.Publish(Event{Topic: TopicMetrics, Type: "metrics", AgentID: "a1"})

	select {
	case <-metricsCh:
	case <-time.After(time.Second):
		t.Fatal("metrics subscriber missed its event")
	}
	select {
	case ev := <-agentCh:
		t.Errorf("agent subscriber received foreign event %+v", ev)
	default:
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New(0, zap.NewNop())
	ch, unsub := b.Subscribe(4, TopicAgent)

	unsub()
	if b.SubscriberCount() != 0 {
		t.Errorf("subscriber count after unsubscribe: %d", b.SubscriberCount())
	}

	// The channel is closed; publishing afterwards must not panic.
	b.Publish(Event{Topic: TopicAgent, Type: "registered"})
	if _, open := <-ch; open {
		t.Error("channel should be closed after unsubscribe")
	}
}

func TestBus_EvictsPersistentLaggard(t *testing.T) {
	b := New(2, zap.NewNop())
	// Buffer of 1 and no consumer: deliveries fail once the buffer fills.
	_, unsub := b.Subscribe(1, TopicAgent)
	defer unsub()

	for i := 0; i < 4; i++ {
		b.Publish(Event{Topic: TopicAgent, Type: "registered"})
	}
	if n := b.SubscriberCount(); n != 0 {
		t.Errorf("laggard not evicted, %d subscribers remain", n)
	}
}

func TestBus_MultipleSubscribersEachReceive(t *testing.T) {
	b := New(0, zap.NewNop())
	ch1, u1 := b.Subscribe(4, TopicAgent)
	defer u1()
	ch2, u2 := b.Subscribe(4, TopicAgent)
	defer u2()

	b.Publish(Event{Topic: TopicAgent, Type: "unregistered", AgentID: "x"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.AgentID != "x" {
				t.Errorf("subscriber %d: got %+v", i, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d missed the event", i)
		}
	}
}
