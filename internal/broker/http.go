package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/taskmesh/taskmesh/internal/messages"
	"github.com/taskmesh/taskmesh/internal/observability"
)

// HTTPBroker exposes SimpleMessageQueue's contract over HTTP: POST
// /publish, POST /register_consumer, POST /deregister_consumer, GET
// /list_consumers. Remote consumers registered with a CallbackURL are
// delivered to with a POST carrying the message body; only transport
// errors (connection refused, timeout, ...) are retried with exponential
// backoff, while a non-2xx response counts as one delivery failure and
// falls straight through to SimpleMessageQueue's own requeue/dead-letter
// accounting.
type HTTPBroker struct {
	*SimpleMessageQueue
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPBroker wraps queue with an HTTP surface and wires remote-consumer
// delivery through client (a client with a 10s timeout if nil).
func NewHTTPBroker(queue *SimpleMessageQueue, client *http.Client, logger *slog.Logger) *HTTPBroker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &HTTPBroker{SimpleMessageQueue: queue, httpClient: client, logger: logger}
	queue.remoteDeliver = b.deliverRemote
	return b
}

// deliverRemote POSTs msg to url, retrying only genuine transport failures
// with exponential backoff (§7 TransientNetwork); a non-2xx response is a
// ConsumerHandlerFailure, not a transient one, so it's returned as
// backoff.Permanent and left to the caller's requeue/dead-letter accounting
// to count as a single delivery attempt (§8 scenario 6: 3 attempts, not 3
// backed-off POSTs per attempt).
func (b *HTTPBroker) deliverRemote(ctx context.Context, url string, msg messages.QueueMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message for %s: %w", url, err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := b.httpClient.Do(req)
		if err != nil {
			return err // transient, retry
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("remote consumer %s returned %d", url, resp.StatusCode))
		}
		return nil
	}, policy)
}

// RegisterHandlers mounts the broker's HTTP surface on mux.
func (b *HTTPBroker) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /publish", b.handlePublish)
	mux.HandleFunc("POST /register_consumer", b.handleRegisterConsumer)
	mux.HandleFunc("POST /deregister_consumer", b.handleDeregisterConsumer)
	mux.HandleFunc("GET /list_consumers", b.handleListConsumers)
}

func (b *HTTPBroker) handlePublish(w http.ResponseWriter, r *http.Request) {
	var msg messages.QueueMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := b.Publish(r.Context(), msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type registerConsumerRequest struct {
	ID          string `json:"id"`
	MessageType string `json:"message_type"`
	CallbackURL string `json:"callback_url"`
}

func (b *HTTPBroker) handleRegisterConsumer(w http.ResponseWriter, r *http.Request) {
	var req registerConsumerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	consumer := Consumer{ID: req.ID, MessageType: req.MessageType, CallbackURL: req.CallbackURL}
	if _, err := b.RegisterConsumer(consumer); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (b *HTTPBroker) handleDeregisterConsumer(w http.ResponseWriter, r *http.Request) {
	var req registerConsumerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	consumer := Consumer{ID: req.ID, MessageType: req.MessageType, CallbackURL: req.CallbackURL}
	if err := b.DeregisterConsumer(consumer); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (b *HTTPBroker) handleListConsumers(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("message_type")
	consumers := b.GetConsumers(topic)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(consumers)
}

var _ observability.HealthChecker = (*BrokerHealthChecker)(nil)

// BrokerHealthChecker reports healthy as long as the broker's scheduler
// loop is running.
type BrokerHealthChecker struct {
	Queue *SimpleMessageQueue
}

// Check implements observability.HealthChecker.
func (c *BrokerHealthChecker) Check(ctx context.Context) observability.HealthCheck {
	status := observability.HealthStatusHealthy
	msg := "scheduler running"
	if !c.Queue.isRunning() {
		status = observability.HealthStatusUnhealthy
		msg = "scheduler stopped"
	}
	return observability.HealthCheck{
		Name:        "broker",
		Status:      status,
		Message:     msg,
		LastChecked: time.Now(),
	}
}
