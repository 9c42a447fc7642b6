package events

import (
	"sync"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return Event{}
	}
}

func TestBus_DeliversConversationPayloads(t *testing.T) {
	tests := []struct {
		name string
		evt  Event
		keys map[string]string
	}{
		{
			name: "state change",
			evt: Event{
				Source: SourceConversation,
				Kind:   KindStateChanged,
				Data:   map[string]any{"conversation_id": "c1", "from": "initial", "to": "clarifying"},
			},
			keys: map[string]string{"conversation_id": "c1", "from": "initial", "to": "clarifying"},
		},
		{
			name: "created from a conversation",
			evt: Event{
				Source: SourceConversation,
				Kind:   KindAutomationCreated,
				Data:   map[string]any{"conversation_id": "c1", "automation_id": "0a1b2c3d4e", "alias": "Porch light (NAG)"},
			},
			keys: map[string]string{"conversation_id": "c1", "automation_id": "0a1b2c3d4e", "alias": "Porch light (NAG)"},
		},
		{
			name: "created by the service endpoint",
			evt: Event{
				Source: SourceService,
				Kind:   KindAutomationCreated,
				Data:   map[string]any{"automation_id": "ffee001122", "description": "Fan off at night"},
			},
			keys: map[string]string{"automation_id": "ffee001122", "description": "Fan off at night"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New()
			ch := b.Subscribe(4)
			defer b.Unsubscribe(ch)

			b.Publish(tt.evt)
			got := receive(t, ch)

			if got.Source != tt.evt.Source || got.Kind != tt.evt.Kind {
				t.Errorf("got %s/%s, want %s/%s", got.Source, got.Kind, tt.evt.Source, tt.evt.Kind)
			}
			for k, want := range tt.keys {
				if v, _ := got.Data[k].(string); v != want {
					t.Errorf("Data[%q] = %v, want %q", k, got.Data[k], want)
				}
			}
		})
	}
}

// The forwarder and the created counter each hold their own subscription
// and must both see every automation that was written.
func TestBus_CreatedReachesForwarderAndCounter(t *testing.T) {
	b := New()
	forwarder := b.Subscribe(8)
	counter := b.Subscribe(8)
	defer b.Unsubscribe(forwarder)
	defer b.Unsubscribe(counter)

	b.Publish(Event{Source: SourceConversation, Kind: KindStateChanged, Data: map[string]any{"conversation_id": "c1"}})
	b.Publish(Event{Source: SourceConversation, Kind: KindAutomationCreated, Data: map[string]any{"conversation_id": "c1", "automation_id": "abc"}})

	for name, ch := range map[string]<-chan Event{"forwarder": forwarder, "counter": counter} {
		if e := receive(t, ch); e.Kind != KindStateChanged {
			t.Errorf("%s: first kind = %s", name, e.Kind)
		}
		e := receive(t, ch)
		if e.Kind != KindAutomationCreated || e.Data["automation_id"] != "abc" {
			t.Errorf("%s: second event = %+v", name, e)
		}
		if _, forwarded := HomeAssistantEvent[e.Kind]; !forwarded {
			t.Errorf("%s is not forwarded to Home Assistant", e.Kind)
		}
	}
}

// A stalled consumer loses events; it never holds up a conversation turn.
func TestBus_FullSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	stalled := b.Subscribe(1)
	defer b.Unsubscribe(stalled)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, to := range []string{"analyzing", "awaiting_approval", "creating", "completed"} {
			b.Publish(Event{Source: SourceConversation, Kind: KindStateChanged, Data: map[string]any{"to": to}})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if e := receive(t, stalled); e.Data["to"] != "analyzing" {
		t.Errorf("kept %v, want the first transition", e.Data["to"])
	}
	select {
	case e := <-stalled:
		t.Errorf("overflow delivered: %v", e.Data["to"])
	default:
	}
}

// Components are built with a nil bus in tests and in the CLI.
func TestBus_NilIsNoop(t *testing.T) {
	var b *Bus
	b.Publish(Event{Source: SourceService, Kind: KindEntitiesListed})
	if n := b.SubscriberCount(); n != 0 {
		t.Errorf("SubscriberCount = %d", n)
	}
}

func TestBus_UnsubscribeWhilePublishing(t *testing.T) {
	b := New()
	ch := b.Subscribe(16)

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				b.Publish(Event{Source: SourceConversation, Kind: KindFailed, Data: map[string]any{"conversation_id": i}})
			}
		}()
	}
	b.Unsubscribe(ch)
	b.Unsubscribe(ch)
	wg.Wait()

	for range ch {
	}
	if n := b.SubscriberCount(); n != 0 {
		t.Errorf("SubscriberCount = %d after Unsubscribe", n)
	}
}
