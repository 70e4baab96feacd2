package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/taskmesh/taskmesh/internal/messages"
	"github.com/taskmesh/taskmesh/internal/taskerr"
)

func newTestQueue(t *testing.T) *SimpleMessageQueue {
	t.Helper()
	return NewSimpleMessageQueue(nil, nil, nil, 3)
}

func runQueue(t *testing.T, q *SimpleMessageQueue) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go q.Start(ctx)
	return cancel
}

func TestDeliveryAtLeastOnce(t *testing.T) {
	q := newTestQueue(t)
	cancel := runQueue(t, q)
	defer cancel()

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
		t.Fatalf("register: %v", err)
	}

	msg, _ := messages.New("client", "agent_a", messages.ActionNewTask, map[string]string{"x": "1"})
	if err := q.Publish(context.Background(), msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-received:
		if got.ID != msg.ID {
			t.Fatalf("got %s want %s", got.ID, msg.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message was never delivered")
	}
}

func TestFIFOOrderingWithinTopic(t *testing.T) {
	q := newTestQueue(t)
	cancel := runQueue(t, q)
	defer cancel()

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})
	count := 0

	_, err := q.RegisterConsumer(Consumer{
		ID:          "c1",
		MessageType: "agent_a",
		Handler: func(ctx context.Context, msg messages.QueueMessage) error {
			mu.Lock()
			order = append(order, msg.ID)
			count++
			if count == 2 {
				close(done)
			}
			mu.Unlock()
			return nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	m1, _ := messages.New("client", "agent_a", messages.ActionNewTask, nil)
	m2, _ := messages.New("client", "agent_a", messages.ActionNewTask, nil)
	_ = q.Publish(context.Background(), m1)
	_ = q.Publish(context.Background(), m2)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("messages were not both delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != m1.ID || order[1] != m2.ID {
		t.Fatalf("got order %v want [%s %s]", order, m1.ID, m2.ID)
	}
}

func TestQueuedBeforeConsumerRegisters(t *testing.T) {
	q := newTestQueue(t)
	cancel := runQueue(t, q)
	defer cancel()

	msg, _ := messages.New("client", "agent_a", messages.ActionNewTask, nil)
	_ = q.Publish(context.Background(), msg)

	received := make(chan messages.QueueMessage, 1)
	_, err := q.RegisterConsumer(Consumer{
		ID:          "late",
		MessageType: "agent_a",
		Handler: func(ctx context.Context, msg messages.QueueMessage) error {
			received <- msg
			return nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	select {
	case got := <-received:
		if got.ID != msg.ID {
			t.Fatalf("got %s want %s", got.ID, msg.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued message was never delivered to late consumer")
	}
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	q := newTestQueue(t)
	c := Consumer{ID: "c1", MessageType: "agent_a", Handler: func(ctx context.Context, msg messages.QueueMessage) error { return nil }}
	if _, err := q.RegisterConsumer(c); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := q.RegisterConsumer(c)
	if err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if !errors.Is(err, taskerr.DuplicateRegistration) {
		t.Fatalf("got %v", err)
	}
}

func TestCompetingConsumersRoundRobin(t *testing.T) {
	q := newTestQueue(t)
	cancel := runQueue(t, q)
	defer cancel()

	var mu sync.Mutex
	hits := map[string]int{}
	done := make(chan struct{})

	handler := func(name string) ConsumerHandler {
		return func(ctx context.Context, msg messages.QueueMessage) error {
			mu.Lock()
			hits[name]++
			total := hits["c1"] + hits["c2"]
			mu.Unlock()
			if total == 4 {
				close(done)
			}
			return nil
		}
	}
	_, _ = q.RegisterConsumer(Consumer{ID: "c1", MessageType: "agent_a", Handler: handler("c1")})
	_, _ = q.RegisterConsumer(Consumer{ID: "c2", MessageType: "agent_a", Handler: handler("c2")})

	for i := 0; i < 4; i++ {
		m, _ := messages.New("client", "agent_a", messages.ActionNewTask, nil)
		_ = q.Publish(context.Background(), m)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all messages delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	if hits["c1"] != 2 || hits["c2"] != 2 {
		t.Fatalf("expected even round robin split, got %v", hits)
	}
}

func TestDeadLetterAfterRetryLimit(t *testing.T) {
	q := NewSimpleMessageQueue(nil, nil, nil, 3)
	cancel := runQueue(t, q)
	defer cancel()

	attempts := make(chan struct{}, 10)
	_, err := q.RegisterConsumer(Consumer{
		ID:          "always-fails",
		MessageType: "agent_a",
		Handler: func(ctx context.Context, msg messages.QueueMessage) error {
			attempts <- struct{}{}
			return assertErr
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	msg, _ := messages.New("client", "agent_a", messages.ActionNewTask, nil)
	_ = q.Publish(context.Background(), msg)

	for i := 0; i < 3; i++ {
		select {
		case <-attempts:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected attempt %d", i+1)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	var dlqLen int
	for time.Now().Before(deadline) {
		q.mu.Lock()
		if t, ok := q.topics[messages.DLQTopic("agent_a")]; ok {
			dlqLen = len(t.queue)
		}
		q.mu.Unlock()
		if dlqLen == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if dlqLen != 1 {
		t.Fatalf("expected exactly one dead-lettered message, got %d", dlqLen)
	}
}

var assertErr = errors.New("handler failure")
