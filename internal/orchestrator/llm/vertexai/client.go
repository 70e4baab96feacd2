// Package vertexai adapts Google's genai SDK to the llm.Client interface,
// grounded on the teacher's agents/cortex/llm/vertexai client but trimmed to
// the Agent orchestrator's narrower decision shape (one service or a final
// answer, instead of an open action list).
package vertexai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"google.golang.org/genai"

	"github.com/taskmesh/taskmesh/internal/orchestrator/llm"
	"github.com/taskmesh/taskmesh/internal/services"
	"github.com/taskmesh/taskmesh/internal/tasks"
)

// Config holds the project/location/model triple genai needs to reach
// Vertex AI.
type Config struct {
	Project  string
	Location string
	Model    string
}

// ConfigFromEnv builds a Config from GCP_PROJECT/GCP_LOCATION/VERTEX_AI_MODEL,
// matching the teacher's chat_responder convention.
func ConfigFromEnv() *Config {
	return &Config{
		Project:  envOrDefault("GCP_PROJECT", "your-project"),
		Location: envOrDefault("GCP_LOCATION", "us-central1"),
		Model:    envOrDefault("VERTEX_AI_MODEL", "gemini-2.0-flash"),
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Client implements llm.Client against Vertex AI.
type Client struct {
	config *Config
	client *genai.Client
	logger *slog.Logger
}

// NewClient opens a Vertex AI backend for config.
func NewClient(ctx context.Context, config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  config.Project,
		Location: config.Location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("create vertex ai client: %w", err)
	}

	level := slog.LevelInfo
	if strings.ToUpper(os.Getenv("LOG_LEVEL")) == "DEBUG" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	return &Client{config: config, client: genaiClient, logger: logger}, nil
}

// Decide implements llm.Client.
func (c *Client) Decide(ctx context.Context, history []tasks.ChatMessage, candidates []services.ServiceDefinition, input string) (llm.Decision, error) {
	prompt := c.buildPrompt(history, candidates, input)

	c.logger.DebugContext(ctx, "sending decision prompt", "model", c.config.Model, "prompt_length", len(prompt))

	response, err := c.query(ctx, prompt)
	if err != nil {
		return llm.Decision{}, fmt.Errorf("query vertex ai: %w", err)
	}

	decision, err := parseDecision(response)
	if err != nil {
		c.logger.WarnContext(ctx, "could not parse decision, answering directly", "error", err)
		return llm.Decision{
			Reasoning:   fmt.Sprintf("could not parse model response: %v", err),
			Final:       true,
			FinalAnswer: response,
		}, nil
	}
	return decision, nil
}

func (c *Client) buildPrompt(history []tasks.ChatMessage, candidates []services.ServiceDefinition, input string) string {
	var b strings.Builder
	b.WriteString("You are an orchestrator deciding, at each step, whether to delegate work to exactly one specialized service or to answer directly.\n\n")

	if len(candidates) > 0 {
		b.WriteString("Available services:\n")
		for _, svc := range candidates {
			b.WriteString(fmt.Sprintf("- %s: %s\n", svc.ServiceName, svc.Description))
		}
		b.WriteString("\n")
	} else {
		b.WriteString("No services are currently available. You must answer directly.\n\n")
	}

	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, m := range history {
			b.WriteString(fmt.Sprintf("%s: %s\n", m.Role, m.Content))
		}
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("Task input: %s\n\n", input))
	b.WriteString("Respond with a JSON object:\n")
	b.WriteString(`{"reasoning": "...", "final": false, "final_answer": "", "service_name": "", "input": ""}` + "\n\n")
	b.WriteString("Set final=true with final_answer populated to answer directly. Otherwise set service_name to exactly one of the services above and input to the sub-input it should receive.\n")

	return b.String()
}

func (c *Client) query(ctx context.Context, prompt string) (string, error) {
	chat, err := c.client.Chats.Create(ctx, c.config.Model, nil, nil)
	if err != nil {
		return "", fmt.Errorf("create chat: %w", err)
	}
	result, err := chat.SendMessage(ctx, genai.Part{Text: prompt})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	if len(result.Candidates) > 0 && len(result.Candidates[0].Content.Parts) > 0 {
		if part := result.Candidates[0].Content.Parts[0]; part.Text != "" {
			return part.Text, nil
		}
	}
	return "", fmt.Errorf("no response from vertex ai")
}

func parseDecision(response string) (llm.Decision, error) {
	jsonStr := response
	if start := strings.Index(jsonStr, "{"); start != -1 {
		if end := strings.LastIndex(jsonStr, "}"); end != -1 && end > start {
			jsonStr = jsonStr[start : end+1]
		}
	}

	var raw struct {
		Reasoning   string `json:"reasoning"`
		Final       bool   `json:"final"`
		FinalAnswer string `json:"final_answer"`
		ServiceName string `json:"service_name"`
		Input       string `json:"input"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return llm.Decision{}, fmt.Errorf("parse json: %w (response: %s)", err, response)
	}
	if !raw.Final && raw.ServiceName == "" {
		return llm.Decision{}, fmt.Errorf("decision names no service and is not final")
	}
	return llm.Decision{
		Reasoning:   raw.Reasoning,
		Final:       raw.Final,
		FinalAnswer: raw.FinalAnswer,
		ServiceName: raw.ServiceName,
		Input:       raw.Input,
	}, nil
}
