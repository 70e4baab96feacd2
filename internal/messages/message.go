// Package messages defines the wire envelope exchanged over the broker:
// QueueMessage, its action enum, and delivery timestamps. The envelope is
// plain JSON: the payload is a json.RawMessage and the timestamps are
// time.Time. structpb appears only inside the tasks and tools payload types.
package messages

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Action identifies the intent of a QueueMessage. It replaces dynamic
// dispatch on payload class with a flat enum plus handler table keyed by
// (message type, action).
type Action string

const (
	ActionNewTask            Action = "NEW_TASK"
	ActionCompletedTask      Action = "COMPLETED_TASK"
	ActionNewToolCall        Action = "NEW_TOOL_CALL"
	ActionCompletedToolCall  Action = "COMPLETED_TOOL_CALL"
	ActionRequestForHelp     Action = "REQUEST_FOR_HELP"
)

// Reserved topic names.
const (
	TopicControlPlane = "control_plane"
	TopicHuman        = "human"
)

// DLQTopic returns the dead-letter sibling topic for topic.
func DLQTopic(topic string) string {
	return topic + ".dlq"
}

// Stats records the publish/process timestamps carried alongside a
// QueueMessage. ProcessStartTime and ProcessEndTime are nil until a
// consumer begins, respectively finishes, handling the message.
type Stats struct {
	PublishTime      time.Time  `json:"publish_time"`
	ProcessStartTime *time.Time `json:"process_start_time"`
	ProcessEndTime   *time.Time `json:"process_end_time"`
}

// MarkProcessStart stamps the current time as the processing start, once.
func (s *Stats) MarkProcessStart() {
	if s.ProcessStartTime != nil {
		return
	}
	now := time.Now().UTC()
	s.ProcessStartTime = &now
}

// MarkProcessEnd stamps the current time as the processing end.
func (s *Stats) MarkProcessEnd() {
	now := time.Now().UTC()
	s.ProcessEndTime = &now
}

// QueueMessage is the envelope carried by the broker. Data is an opaque
// JSON payload — TaskDefinition, TaskResult, ToolCall, etc. — interpreted
// by the consumer according to Action and Type. A QueueMessage is
// immutable after Publish except for Stats.
type QueueMessage struct {
	ID          string          `json:"id"`
	PublisherID string          `json:"publisher_id"`
	Type        string          `json:"type"`
	Action      Action          `json:"action"`
	Data        json.RawMessage `json:"data"`
	Stats       Stats           `json:"stats"`
}

// New builds a QueueMessage with a fresh ID and the given payload marshaled
// to JSON. Publish time is stamped by the broker, not here.
func New(publisherID, topic string, action Action, payload any) (QueueMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return QueueMessage{}, err
	}
	return QueueMessage{
		ID:          uuid.NewString(),
		PublisherID: publisherID,
		Type:        topic,
		Action:      action,
		Data:        raw,
	}, nil
}

// Unmarshal decodes Data into v.
func (m QueueMessage) Unmarshal(v any) error {
	return json.Unmarshal(m.Data, v)
}
