package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/taskmesh/taskmesh/internal/messages"
)

var _ MessageQueue = (*HTTPClient)(nil)

// HTTPClient is a MessageQueue that talks to a remote HTTPBroker over HTTP,
// the counterpart to HTTPBroker's server side — used by the server launcher
// so that every process addresses the broker the same way regardless of
// whether it runs in the same process or not.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient builds a client addressing the broker at baseURL (e.g.
// "http://localhost:8090").
func NewHTTPClient(baseURL string, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{baseURL: baseURL, httpClient: client}
}

// Publish implements MessageQueue.
func (c *HTTPClient) Publish(ctx context.Context, msg messages.QueueMessage) error {
	return c.post(ctx, "/publish", msg, http.StatusAccepted)
}

// RegisterConsumer implements MessageQueue. Only remote consumers (with a
// CallbackURL) make sense across a process boundary; an in-process Handler
// cannot be delivered to over HTTP.
func (c *HTTPClient) RegisterConsumer(consumer Consumer) (func(ctx context.Context) error, error) {
	if !consumer.isRemote() {
		return nil, fmt.Errorf("HTTPClient.RegisterConsumer requires a CallbackURL, got a local handler for %s", consumer.ID)
	}
	req := registerConsumerRequest{ID: consumer.ID, MessageType: consumer.MessageType, CallbackURL: consumer.CallbackURL}
	if err := c.post(context.Background(), "/register_consumer", req, http.StatusCreated); err != nil {
		return nil, err
	}
	return func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }, nil
}

// DeregisterConsumer implements MessageQueue.
func (c *HTTPClient) DeregisterConsumer(consumer Consumer) error {
	req := registerConsumerRequest{ID: consumer.ID, MessageType: consumer.MessageType, CallbackURL: consumer.CallbackURL}
	return c.post(context.Background(), "/deregister_consumer", req, http.StatusOK)
}

// GetConsumers implements MessageQueue.
func (c *HTTPClient) GetConsumers(messageType string) []Consumer {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/list_consumers?message_type="+url.QueryEscape(messageType), nil)
	if err != nil {
		return nil
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	var consumers []Consumer
	_ = json.NewDecoder(resp.Body).Decode(&consumers)
	return consumers
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any, wantStatus int) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		return fmt.Errorf("%s returned %d", path, resp.StatusCode)
	}
	return nil
}
