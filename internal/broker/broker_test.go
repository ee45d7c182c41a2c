package broker

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case msg := <-c.Messages():
		return msg
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected a message")
	}
	return Message{}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.Messages():
		t.Fatalf("unexpected message %s %s", msg.Event, msg.Data)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestJoinAcknowledgesOnlyJoiner(t *testing.T) {
	h := New()
	a := NewClient(4)
	b := NewClient(4)
	h.Join(b, "ROOM1")
	receive(t, b)

	h.Join(a, "ROOM1")

	msg := receive(t, a)
	if msg.Event != EventJoined {
		t.Fatalf("Event = %q, want %q", msg.Event, EventJoined)
	}
	var ack RoomAck
	if err := json.Unmarshal(msg.Data, &ack); err != nil || ack.Code != "ROOM1" {
		t.Errorf("ack = %+v, %v", ack, err)
	}
	expectNothing(t, b)
}

func TestPublishReachesRoom(t *testing.T) {
	h := New()
	a, b := NewClient(4), NewClient(4)
	h.Join(a, "ROOM1")
	h.Join(b, "ROOM1")
	receive(t, a)
	receive(t, b)

	n := h.Publish("ROOM1", "queueUpdated", []string{"t2", "t1"})
	if n != 2 {
		t.Errorf("delivered = %d, want 2", n)
	}
	for _, c := range []*Client{a, b} {
		msg := receive(t, c)
		if msg.Event != "queueUpdated" || string(msg.Data) != `["t2","t1"]` {
			t.Errorf("message = %s %s", msg.Event, msg.Data)
		}
	}
}

func TestCrossRoomIsolation(t *testing.T) {
	h := New()
	a, b := NewClient(4), NewClient(4)
	h.Join(a, "ROOM1")
	h.Join(b, "ROOM2")
	receive(t, a)
	receive(t, b)

	h.Publish("ROOM1", "partyUpdated", map[string]int{"members": 1})

	receive(t, a)
	expectNothing(t, b)
}

func TestLeaveStopsDelivery(t *testing.T) {
	h := New()
	c := NewClient(4)
	h.Join(c, "ROOM1")
	receive(t, c)

	h.Leave(c, "ROOM1")
	if msg := receive(t, c); msg.Event != EventLeft {
		t.Fatalf("Event = %q, want %q", msg.Event, EventLeft)
	}

	if n := h.Publish("ROOM1", "queueUpdated", nil); n != 0 {
		t.Errorf("delivered = %d after leave", n)
	}
	expectNothing(t, c)
}

func TestLeaveCleansUpEmptyRoom(t *testing.T) {
	h := New()
	c := NewClient(4)
	h.Join(c, "ROOM1")
	h.Leave(c, "ROOM1")

	h.mu.RLock()
	_, exists := h.rooms["ROOM1"]
	h.mu.RUnlock()
	if exists {
		t.Fatal("expected room entry to be removed after last leave")
	}
}

func TestDisconnectLeavesAllRooms(t *testing.T) {
	h := New()
	c := NewClient(8)
	other := NewClient(8)
	h.Join(c, "ROOM1")
	h.Join(c, "ROOM2")
	h.Join(other, "ROOM2")

	h.Disconnect(c)

	if h.Subscribers("ROOM1") != 0 {
		t.Errorf("ROOM1 subscribers = %d", h.Subscribers("ROOM1"))
	}
	if h.Subscribers("ROOM2") != 1 {
		t.Errorf("ROOM2 subscribers = %d", h.Subscribers("ROOM2"))
	}
}

func TestPublishOrderWithinRoom(t *testing.T) {
	h := New()
	c := NewClient(16)
	h.Join(c, "ROOM1")
	receive(t, c)

	for i := 0; i < 10; i++ {
		h.Publish("ROOM1", "queueUpdated", i)
	}
	for i := 0; i < 10; i++ {
		var got int
		json.Unmarshal(receive(t, c).Data, &got)
		if got != i {
			t.Fatalf("message %d carried %d", i, got)
		}
	}
}

func TestFullMailboxDropsWithoutBlocking(t *testing.T) {
	h := New()
	slow := NewClient(1)
	fast := NewClient(16)
	h.Join(slow, "ROOM1")
	h.Join(fast, "ROOM1")
	receive(t, fast)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Publish("ROOM1", "queueUpdated", i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full mailbox")
	}

	// The slow client still holds the join ack and nothing else.
	if msg := receive(t, slow); msg.Event != EventJoined {
		t.Errorf("slow client got %q", msg.Event)
	}
	expectNothing(t, slow)
	for i := 0; i < 10; i++ {
		receive(t, fast)
	}
}

func TestPublishUnencodablePayload(t *testing.T) {
	h := New()
	c := NewClient(4)
	h.Join(c, "ROOM1")
	receive(t, c)

	if n := h.Publish("ROOM1", "bad", func() {}); n != 0 {
		t.Errorf("delivered = %d for unencodable payload", n)
	}
	expectNothing(t, c)
}

func TestPublishToEmptyRoom(t *testing.T) {
	h := New()
	// Should not panic
	if n := h.Publish("nonexistent", "queueUpdated", nil); n != 0 {
		t.Errorf("delivered = %d", n)
	}
}

func TestClientIDsAreUnique(t *testing.T) {
	if NewClient(0).ID == NewClient(0).ID {
		t.Fatal("client IDs collide")
	}
	if cap(NewClient(0).send) != DefaultBuffer {
		t.Errorf("default buffer = %d", cap(NewClient(0).send))
	}
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewClient(64)
			h.Join(c, "ROOM1")
			h.Publish("ROOM1", "queueUpdated", i)
			<-c.Messages()
			h.Leave(c, "ROOM1")
			h.Disconnect(c)
		}()
	}

	wg.Wait()
	if h.Subscribers("ROOM1") != 0 {
		t.Errorf("subscribers = %d after all clients left", h.Subscribers("ROOM1"))
	}
}
