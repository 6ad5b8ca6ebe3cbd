package eventbus

import (
	"testing"
	"time"
)

func TestSubscribeReceivesMatchingKind(t *testing.T) {
	b := New()
	ch := b.Subscribe([]Kind{KindHandoffEnqueued})

	b.Publish(NewEvent(KindHandoffEnqueued, "widgets", nil))
	b.Publish(NewEvent(KindRouterDecision, "widgets", nil))

	select {
	case evt := <-ch:
		if evt.Kind != KindHandoffEnqueued {
			t.Fatalf("got kind %q", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for matching event")
	}

	select {
	case evt := <-ch:
		t.Fatalf("did not expect a second event, got %v", evt)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSubscribeWithNoFilterReceivesEverything(t *testing.T) {
	b := New()
	ch := b.Subscribe(nil)

	b.Publish(NewEvent(KindHandoffEnqueued, "p", nil))
	b.Publish(NewEvent(KindHandoffAcknowledged, "p", nil))
	b.Publish(NewEvent(KindRouterDecision, "p", nil))

	for i := 0; i < 3; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch := b.Subscribe([]Kind{KindRouterDecision})
	b.Unsubscribe(ch)

	_, open := <-ch
	if open {
		t.Fatalf("expected channel to be closed")
	}

	// Publishing after unsubscribe must not panic or block.
	b.Publish(NewEvent(KindRouterDecision, "p", nil))
}

func TestPublishDropsOnFullChannelAndCountsIt(t *testing.T) {
	b := New()
	ch := b.Subscribe([]Kind{KindHandoffEnqueued})

	for i := 0; i < subscriberBuffer+1; i++ {
		b.Publish(NewEvent(KindHandoffEnqueued, "p", nil))
	}

	if got := b.DroppedEventCount(); got == 0 {
		t.Fatalf("expected at least one dropped event, got %d", got)
	}
	drainAll(ch)
}

func drainAll(ch <-chan Event) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func TestMatchesEmptyFilterMeansEverything(t *testing.T) {
	if !matches(KindHandoffEnqueued, nil) {
		t.Fatalf("expected empty filter to match everything")
	}
	if matches(KindHandoffEnqueued, []Kind{KindRouterDecision}) {
		t.Fatalf("did not expect a match")
	}
}
