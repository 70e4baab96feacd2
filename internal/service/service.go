// Package service implements the service contract every worker satisfies
// (spec.md §4.2) plus its four variants: AgentService, ToolService,
// HumanService, ComponentService. Grounded on original agentfile/services/
// {agent,human}.py and agentfile/tools/meta_service_tool.py, generalized
// into Go interfaces the way the teacher's internal/subagent package wraps
// a handler registry around a processing loop.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/taskmesh/taskmesh/internal/broker"
	"github.com/taskmesh/taskmesh/internal/services"
)

// Service is the contract every worker satisfies: definition for
// registration, a consumer binding, a processing loop, and the two launch
// modes.
type Service interface {
	ServiceDefinition() services.ServiceDefinition
	AsConsumer(remote bool) broker.Consumer
	ProcessingLoop(ctx context.Context)
	RegisterToMessageQueue(mq broker.MessageQueue) (startConsuming func(ctx context.Context) error, err error)
	RegisterToControlPlane(ctx context.Context, controlPlaneURL string) error
	LaunchLocal(ctx context.Context, mq broker.MessageQueue) error
	LaunchServer(ctx context.Context, mq broker.MessageQueue, addr string) error
}

// Base holds the fields and helpers common to every variant: identity,
// addressing, and the registration/launch machinery that does not depend
// on what a step does.
type Base struct {
	ServiceName string
	Description string
	Prompt      string
	Host        string
	Port        int

	StepInterval time.Duration
	PublisherID  string

	MQ     broker.MessageQueue
	Logger *slog.Logger

	httpClient *http.Client
}

// ServiceDefinition implements part of Service.
func (b *Base) ServiceDefinition() services.ServiceDefinition {
	return services.ServiceDefinition{
		ServiceName: b.ServiceName,
		Description: b.Description,
		Prompt:      b.Prompt,
		Host:        b.Host,
		Port:        b.Port,
	}
}

// AsConsumer builds a Consumer bound to this service's topic, either with a
// local Handler or, when remote, a callback URL targeting /process_message
// on Host:Port — mirroring the original's
// `f"{self.host}:{self.port}/process_message"` construction.
func (b *Base) AsConsumer(remote bool, handler broker.ConsumerHandler) broker.Consumer {
	if remote {
		return broker.Consumer{
			ID:          b.PublisherID,
			MessageType: b.ServiceName,
			CallbackURL: fmt.Sprintf("http://%s:%d/process_message", b.Host, b.Port),
		}
	}
	return broker.Consumer{
		ID:          b.PublisherID,
		MessageType: b.ServiceName,
		Handler:     handler,
	}
}

// RegisterToMessageQueue registers consumer with mq and records mq for
// later publishes.
func (b *Base) RegisterToMessageQueue(mq broker.MessageQueue, consumer broker.Consumer) (func(ctx context.Context) error, error) {
	b.MQ = mq
	return mq.RegisterConsumer(consumer)
}

// RegisterToControlPlane POSTs this service's definition to the control
// plane's registration endpoint.
func (b *Base) RegisterToControlPlane(ctx context.Context, controlPlaneURL string) error {
	body, err := json.Marshal(b.ServiceDefinition())
	if err != nil {
		return fmt.Errorf("marshal service definition: %w", err)
	}
	client := b.client()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, controlPlaneURL+"/services/register", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("register with control plane: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("control plane rejected registration: status %d", resp.StatusCode)
	}
	return nil
}

func (b *Base) client() *http.Client {
	if b.httpClient == nil {
		b.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return b.httpClient
}

// stepInterval returns StepInterval, defaulting to 100ms per spec.md §4.2.
func (b *Base) stepInterval() time.Duration {
	if b.StepInterval <= 0 {
		return 100 * time.Millisecond
	}
	return b.StepInterval
}

// logger returns Logger, defaulting to slog.Default() so a service built
// without one explicitly set never panics on use.
func (b *Base) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}

// logPublishErr logs a failed publish to topic (and does nothing when err
// is nil), so the processing loop carries on instead of crashing.
func (b *Base) logPublishErr(ctx context.Context, topic string, err error) {
	if err != nil {
		b.logger().ErrorContext(ctx, "failed to publish", "topic", topic, "error", err)
	}
}

// homeHandler serves GET / with a small status payload, matching the
// teacher's and original's per-service home route.
func (b *Base) homeHandler(running func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"service_name":  b.ServiceName,
			"description":   b.Description,
			"running":       running(),
			"step_interval": b.stepInterval().String(),
		})
	}
}
