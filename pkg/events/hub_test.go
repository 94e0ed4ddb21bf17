package events

import "testing"

func TestPublishSubscribe(t *testing.T) {
	h := NewEventHub()
	a, b := h.Subscribe(), h.Subscribe()

	h.Publish(ConnectionState, ConnectionStateEvent{State: "connected", Device: "LightVISION"})

	for _, ch := range []chan Event{a, b} {
		ev := <-ch
		if ev.Name != ConnectionState {
			t.Fatalf("name = %q", ev.Name)
		}
		p, err := DecodeAs[ConnectionStateEvent](ev)
		if err != nil {
			t.Fatal(err)
		}
		if p.State != "connected" || p.Device != "LightVISION" {
			t.Fatalf("payload = %+v", p)
		}
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	for i := 0; i < DefaultBuffer*2; i++ {
		h.Publish(GazePosition, GazePositionEvent{X: i})
	}
	if n := len(ch); n != DefaultBuffer {
		t.Fatalf("queued %d events, want %d", n, DefaultBuffer)
	}
	first, _ := DecodeAs[GazePositionEvent](<-ch)
	if first.X != 0 {
		t.Fatalf("first event X = %d, want the oldest kept", first.X)
	}
}

func TestUnsubscribe(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	h.Unsubscribe(ch)
	h.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed")
	}
	if n := h.Subscribers(); n != 0 {
		t.Fatalf("subscribers = %d", n)
	}
	h.Publish(FaceDetected, FaceDetectedEvent{Detected: true})
}

func TestNilHub(t *testing.T) {
	var h *EventHub
	h.Publish(CalibrationState, CalibrationStateEvent{State: "center"})
}

func TestDecodeEmpty(t *testing.T) {
	p, err := DecodeAs[CalibrationStateEvent](Event{Name: CalibrationState})
	if err != nil || p != (CalibrationStateEvent{}) {
		t.Fatalf("DecodeAs(empty) = %+v, %v", p, err)
	}
}
