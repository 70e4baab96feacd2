package messages

import (
	"encoding/json"
	"testing"
)

type payload struct {
	Foo string `json:"foo"`
}

func TestNewAndUnmarshal(t *testing.T) {
	msg, err := New("publisher-1", "agent_a", ActionNewTask, payload{Foo: "bar"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if msg.ID == "" {
		t.Fatal("expected a generated ID")
	}
	if msg.Type != "agent_a" || msg.Action != ActionNewTask {
		t.Fatalf("unexpected envelope fields: %+v", msg)
	}

	var got payload
	if err := msg.Unmarshal(&got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Foo != "bar" {
		t.Fatalf("got %+v", got)
	}
}

func TestRoundTripPreservesFieldsExceptStats(t *testing.T) {
	msg, err := New("publisher-1", "control_plane", ActionCompletedTask, payload{Foo: "baz"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	msg.Stats.PublishTime = msg.Stats.PublishTime // zero value, deliberately unset

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var round QueueMessage
	if err := json.Unmarshal(raw, &round); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if round.ID != msg.ID || round.PublisherID != msg.PublisherID || round.Type != msg.Type || round.Action != msg.Action {
		t.Fatalf("round trip mismatch: got %+v want %+v", round, msg)
	}
	if string(round.Data) != string(msg.Data) {
		t.Fatalf("data mismatch: got %s want %s", round.Data, msg.Data)
	}
}

func TestDLQTopic(t *testing.T) {
	if got := DLQTopic("agent_a"); got != "agent_a.dlq" {
		t.Fatalf("got %s", got)
	}
}
