package hub

import "testing"

func newClient(id string, sub Subscription) *Client {
	return &Client{ID: id, Send: make(chan []byte, 4), Subscription: sub}
}

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case msg := <-c.Send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestBroadcastMatchesSubscription(t *testing.T) {
	h := New()
	all := newClient("all", Subscription{})
	generalDoctor := newClient("general", Subscription{Service: "doctor", Department: "general"})
	labBoard := newClient("lab", Subscription{QueueTag: "laboratory"})
	h.Register(all)
	h.Register(generalDoctor)
	h.Register(labBoard)

	h.Broadcast([]byte(`{"n":1}`), Subscription{Service: "doctor", Department: "general"})
	h.Broadcast([]byte(`{"n":2}`), Subscription{Service: "doctor", Department: "dental"})
	h.Broadcast([]byte(`{"n":3}`), Subscription{QueueTag: "laboratory"})

	if got := len(drain(all)); got != 3 {
		t.Fatalf("unscoped client got %d messages, want 3", got)
	}
	if got := len(drain(generalDoctor)); got != 1 {
		t.Fatalf("general doctor client got %d messages, want 1", got)
	}
	if got := len(drain(labBoard)); got != 1 {
		t.Fatalf("lab board client got %d messages, want 1", got)
	}
}

func TestUpdateSubscription(t *testing.T) {
	h := New()
	client := newClient("c1", Subscription{Service: "doctor"})
	h.Register(client)

	h.Broadcast([]byte(`a`), Subscription{Service: "pharmacy"})
	if got := len(drain(client)); got != 0 {
		t.Fatalf("got %d messages before resubscribe, want 0", got)
	}

	h.UpdateSubscription(client, Subscription{Service: "pharmacy"})
	h.Broadcast([]byte(`b`), Subscription{Service: "pharmacy"})
	if got := len(drain(client)); got != 1 {
		t.Fatalf("got %d messages after resubscribe, want 1", got)
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	h := New()
	client := newClient("c1", Subscription{})
	h.Register(client)
	if h.ClientCount() != 1 {
		t.Fatalf("count = %d, want 1", h.ClientCount())
	}

	h.Unregister(client)
	if h.ClientCount() != 0 {
		t.Fatalf("count = %d, want 0", h.ClientCount())
	}
	if _, open := <-client.Send; open {
		t.Fatal("send channel should be closed")
	}
}

func TestBroadcastDropsWhenFull(t *testing.T) {
	h := New()
	client := &Client{ID: "slow", Send: make(chan []byte, 1)}
	h.Register(client)

	h.Broadcast([]byte(`one`), Subscription{})
	h.Broadcast([]byte(`two`), Subscription{})

	if got := len(drain(client)); got != 1 {
		t.Fatalf("got %d messages, want 1 (overflow dropped)", got)
	}
}

func TestParseSubscribe(t *testing.T) {
	msg, ok := ParseSubscribe([]byte(`{"action":"subscribe","service":"doctor","department":"general"}`))
	if !ok {
		t.Fatal("expected valid subscribe message")
	}
	if msg.Service != "doctor" || msg.Department != "general" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	if _, ok := ParseSubscribe([]byte(`{"action":"dance"}`)); ok {
		t.Fatal("unknown action should be rejected")
	}
	if _, ok := ParseSubscribe([]byte(`not json`)); ok {
		t.Fatal("malformed message should be rejected")
	}
}
