package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/taskmesh/taskmesh/internal/messages"
)

func TestHTTPClientPublishReachesRemoteBroker(t *testing.T) {
	q := newTestQueue(t)
	cancel := runQueue(t, q)
	defer cancel()
	hb := NewHTTPBroker(q, nil, nil)

	mux := http.NewServeMux()
	hb.RegisterHandlers(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	received := make(chan messages.QueueMessage, 1)
	_, err := q.RegisterConsumer(Consumer{
		ID:          "c1",
		MessageType: "agent_a",
		Handler: func(ctx context.Context, msg messages.QueueMessage) error {
			received <- msg
			return nil
		},
	})
	if err != nil {
		t.Fatalf("register consumer: %v", err)
	}

	client := NewHTTPClient(server.URL, nil)
	msg, err := messages.New("remote-publisher", "agent_a", messages.ActionNewTask, map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	if err := client.Publish(context.Background(), msg); err != nil {
		t.Fatalf("publish via http client: %v", err)
	}

	select {
	case got := <-received:
		if got.ID != msg.ID {
			t.Fatalf("unexpected message: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestHTTPClientRegisterConsumerRequiresCallbackURL(t *testing.T) {
	client := NewHTTPClient("http://unused", nil)
	_, err := client.RegisterConsumer(Consumer{ID: "c1", MessageType: "agent_a"})
	if err == nil {
		t.Fatal("expected an error for a consumer without a CallbackURL")
	}
}
