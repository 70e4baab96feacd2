// Package broker implements the message queue abstraction: competing
// consumers, at-least-once delivery, FIFO per topic. SimpleMessageQueue is
// the in-process reference; HTTPBroker exposes the same contract over HTTP
// for remote consumers and publishers.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/internal/messages"
	"github.com/taskmesh/taskmesh/internal/observability"
	"github.com/taskmesh/taskmesh/internal/taskerr"
)

// ConsumerHandler processes one delivered message. An error return causes
// the broker to requeue the message (ConsumerHandlerFailure, §7).
type ConsumerHandler func(ctx context.Context, msg messages.QueueMessage) error

// Consumer identifies a binding to a topic, either an in-process Handler or
// a remote CallbackURL delivered to via HTTP POST.
type Consumer struct {
	ID          string
	MessageType string
	Handler     ConsumerHandler `json:"-"`
	CallbackURL string
}

func (c Consumer) key() string { return c.ID + "\x00" + c.MessageType }

func (c Consumer) isRemote() bool { return c.CallbackURL != "" }

// MessageQueue is the broker contract (spec.md §4.1).
type MessageQueue interface {
	// Publish enqueues msg on topic msg.Type and returns once durably
	// accepted. It stamps Stats.PublishTime.
	Publish(ctx context.Context, msg messages.QueueMessage) error

	// RegisterConsumer binds consumer to its topic and returns a
	// start-consuming handle that blocks until ctx is cancelled and then
	// returns ctx.Err(). The handle does not gate delivery: the broker
	// delivers to the consumer from the moment it is registered, and
	// cancelling ctx does not deregister it. Fails with
	// taskerr.DuplicateRegistration if (ID, MessageType) is already
	// registered.
	RegisterConsumer(consumer Consumer) (startConsuming func(ctx context.Context) error, err error)

	// DeregisterConsumer removes the binding. In-flight deliveries for
	// that consumer are allowed to complete.
	DeregisterConsumer(consumer Consumer) error

	// GetConsumers returns the current consumer set for a topic.
	GetConsumers(messageType string) []Consumer
}

type queuedMessage struct {
	msg     messages.QueueMessage
	retries int
}

type topicState struct {
	queue     []queuedMessage
	consumers []Consumer
	cursor    int
}

// SimpleMessageQueue is the in-process reference broker: a topic→FIFO-queue
// map and a topic→round-robin-consumer-set map, drained by a single
// cooperative scheduler goroutine so that no explicit per-message locking
// is needed around delivery itself.
type SimpleMessageQueue struct {
	mu     sync.Mutex
	topics map[string]*topicState
	order  []string // insertion order, used for round robin across topics

	retryLimit int
	wake       chan struct{}
	done       chan struct{}
	running    bool

	logger  *slog.Logger
	tracer  *observability.TraceManager
	metrics *observability.MetricsManager

	// remoteDeliver, when set, delivers to a remote consumer's
	// CallbackURL. HTTPBroker installs this; SimpleMessageQueue used bare
	// accepts a remote consumer but fails every delivery to it, so its
	// messages are requeued and finally dead-lettered.
	remoteDeliver func(ctx context.Context, url string, msg messages.QueueMessage) error
}

// NewSimpleMessageQueue builds a broker with the given requeue limit before
// dead-lettering (default 3 per §7 if retryLimit <= 0).
func NewSimpleMessageQueue(logger *slog.Logger, tracer *observability.TraceManager, metrics *observability.MetricsManager, retryLimit int) *SimpleMessageQueue {
	if retryLimit <= 0 {
		retryLimit = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SimpleMessageQueue{
		topics:     make(map[string]*topicState),
		retryLimit: retryLimit,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		logger:     logger,
		tracer:     tracer,
		metrics:    metrics,
	}
}

func (q *SimpleMessageQueue) topicFor(name string) *topicState {
	t, ok := q.topics[name]
	if !ok {
		t = &topicState{}
		q.topics[name] = t
		q.order = append(q.order, name)
	}
	return t
}

func (q *SimpleMessageQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Publish implements MessageQueue.
func (q *SimpleMessageQueue) Publish(ctx context.Context, msg messages.QueueMessage) error {
	if msg.Type == "" {
		return fmt.Errorf("publish: %w", fmt.Errorf("empty message type"))
	}
	msg.Stats.PublishTime = time.Now().UTC()

	q.mu.Lock()
	t := q.topicFor(msg.Type)
	t.queue = append(t.queue, queuedMessage{msg: msg})
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.IncrementEventsPublished(ctx, string(msg.Action), msg.Type)
	}
	q.logger.DebugContext(ctx, "published message", "topic", msg.Type, "action", msg.Action, "id", msg.ID)
	q.signal()
	return nil
}

// RegisterConsumer implements MessageQueue.
func (q *SimpleMessageQueue) RegisterConsumer(consumer Consumer) (func(ctx context.Context) error, error) {
	if consumer.ID == "" || consumer.MessageType == "" {
		return nil, fmt.Errorf("register consumer: id and message_type are required")
	}

	q.mu.Lock()
	t := q.topicFor(consumer.MessageType)
	for _, c := range t.consumers {
		if c.key() == consumer.key() {
			q.mu.Unlock()
			return nil, fmt.Errorf("register consumer %s on %s: %w", consumer.ID, consumer.MessageType, taskerr.DuplicateRegistration)
		}
	}
	t.consumers = append(t.consumers, consumer)
	t.cursor = 0
	q.mu.Unlock()

	q.logger.Info("registered consumer", "consumer_id", consumer.ID, "topic", consumer.MessageType)
	q.signal()

	return func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, nil
}

// DeregisterConsumer implements MessageQueue.
func (q *SimpleMessageQueue) DeregisterConsumer(consumer Consumer) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.topics[consumer.MessageType]
	if !ok {
		return nil
	}
	for i, c := range t.consumers {
		if c.key() == consumer.key() {
			t.consumers = append(t.consumers[:i], t.consumers[i+1:]...)
			t.cursor = 0
			return nil
		}
	}
	return nil
}

// GetConsumers implements MessageQueue.
func (q *SimpleMessageQueue) GetConsumers(messageType string) []Consumer {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.topics[messageType]
	if !ok {
		return nil
	}
	out := make([]Consumer, len(t.consumers))
	copy(out, t.consumers)
	return out
}

// Start runs the cooperative scheduler loop until ctx is cancelled or Stop
// is called. It drains at most one message, to one consumer, per topic per
// iteration, round-robining across topics to prevent starvation.
func (q *SimpleMessageQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	q.running = true
	q.mu.Unlock()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if !q.isRunning() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.done:
			return nil
		case <-q.wake:
		case <-ticker.C:
		}
		q.drainOnePerTopic(ctx)
	}
}

func (q *SimpleMessageQueue) isRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Stop clears the running flag; Start returns after draining the current
// iteration.
func (q *SimpleMessageQueue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.mu.Unlock()
	close(q.done)
}

func (q *SimpleMessageQueue) drainOnePerTopic(ctx context.Context) {
	q.mu.Lock()
	topics := make([]string, len(q.order))
	copy(topics, q.order)
	q.mu.Unlock()

	for _, name := range topics {
		q.deliverOne(ctx, name)
	}
}

func (q *SimpleMessageQueue) deliverOne(ctx context.Context, topic string) {
	q.mu.Lock()
	t, ok := q.topics[topic]
	if !ok || len(t.queue) == 0 || len(t.consumers) == 0 {
		q.mu.Unlock()
		return
	}
	qm := t.queue[0]
	t.queue = t.queue[1:]
	consumer := t.consumers[t.cursor%len(t.consumers)]
	t.cursor = (t.cursor + 1) % len(t.consumers)
	q.mu.Unlock()

	start := time.Now()
	err := q.deliver(ctx, consumer, qm.msg)
	if q.metrics != nil {
		q.metrics.RecordBrokerConsumeDuration(ctx, topic, time.Since(start))
	}
	if err == nil {
		if q.metrics != nil {
			q.metrics.IncrementEventsProcessed(ctx, string(qm.msg.Action), qm.msg.Type, true)
		}
		return
	}

	q.logger.ErrorContext(ctx, "consumer handler failed", "topic", topic, "consumer_id", consumer.ID, "error", err, "retries", qm.retries)
	if q.metrics != nil {
		q.metrics.IncrementEventsProcessed(ctx, string(qm.msg.Action), qm.msg.Type, false)
	}
	qm.retries++
	if qm.retries >= q.retryLimit {
		q.deadLetter(ctx, qm.msg)
		return
	}
	q.mu.Lock()
	t.queue = append(t.queue, qm)
	q.mu.Unlock()
	q.signal()
}

func (q *SimpleMessageQueue) deliver(ctx context.Context, consumer Consumer, msg messages.QueueMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consumer %s panicked: %v", consumer.ID, r)
		}
	}()
	msg.Stats.MarkProcessStart()
	defer msg.Stats.MarkProcessEnd()

	switch {
	case consumer.isRemote():
		if q.remoteDeliver == nil {
			return fmt.Errorf("consumer %s is remote but no transport is configured: %w", consumer.ID, taskerr.ConsumerHandlerFailure)
		}
		err = q.remoteDeliver(ctx, consumer.CallbackURL, msg)
	case consumer.Handler != nil:
		err = consumer.Handler(ctx, msg)
	default:
		return fmt.Errorf("consumer %s has no local handler or callback url: %w", consumer.ID, taskerr.ConsumerHandlerFailure)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", taskerr.ConsumerHandlerFailure, err)
	}
	return nil
}

func (q *SimpleMessageQueue) deadLetter(ctx context.Context, msg messages.QueueMessage) {
	dlq := messages.DLQTopic(msg.Type)
	q.logger.ErrorContext(ctx, "dead-lettering message", "original_topic", msg.Type, "dlq_topic", dlq, "id", msg.ID)
	q.mu.Lock()
	t := q.topicFor(dlq)
	t.queue = append(t.queue, queuedMessage{msg: msg})
	q.mu.Unlock()
	if q.metrics != nil {
		q.metrics.IncrementBrokerConnectionErrors(ctx)
	}
}
