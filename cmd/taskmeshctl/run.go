package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/taskmesh/taskmesh/internal/launcher"
	"github.com/taskmesh/taskmesh/internal/orchestrator"
	"github.com/taskmesh/taskmesh/internal/orchestrator/llm"
	"github.com/taskmesh/taskmesh/internal/service"
	"github.com/taskmesh/taskmesh/internal/tasks"
)

var runInput string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the secret-fact demo agent end to end in one process and print the answer",
	Long: "Runs a single AgentService wired to a tool service through a MetaServiceTool " +
		"proxy (spec.md §8's single-agent-single-tool scenario): the agent calls " +
		"get_secret_fact once and answers with whatever the tool returns.",
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "What is the secret fact?", "task input handed to the agent")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	logger := slog.Default()

	secretFactTool := service.NewToolService("secret_fact_tool", "reveals the secret fact", map[string]service.ToolFunc{
		"get_secret_fact": func(ctx context.Context, args *structpb.Struct) (string, *structpb.Struct, error) {
			return "Cria is the secret fact.", nil, nil
		},
	}, 10*time.Millisecond)

	metaTool := service.NewMetaServiceTool("secret_fact_tool", 5*time.Second, logger)

	var secretFactAgent *service.AgentService
	step := func(ctx context.Context, history []tasks.ChatMessage) (tasks.ChatMessage, bool, error) {
		result, err := metaTool.Call(ctx, secretFactAgent.MQ, "get_secret_fact", nil)
		if err != nil {
			return tasks.ChatMessage{}, false, fmt.Errorf("call secret_fact_tool: %w", err)
		}
		return tasks.ChatMessage{Role: tasks.RoleAssistant, Content: result.Output}, true, nil
	}
	secretFactAgent = service.NewAgentService("secret_fact_agent", "answers questions using the secret fact tool", step, 10*time.Millisecond)

	// maxCalls=2: one round to delegate to secret_fact_agent, one more for
	// the mock client to synthesize a final answer from the tool's reply.
	o := orchestrator.NewAgent("control_plane", llm.NewMockClient(), 2)

	// secretFactTool is deliberately left out of Services: Local registers
	// every entry there as a control-plane candidate, and the tool must stay
	// reachable only through the agent's MetaServiceTool proxy, never as a
	// service the orchestrator could dispatch a NEW_TASK to directly.
	l, err := launcher.NewLocal(launcher.LocalConfig{
		Orchestrator: o,
		Services:     []service.Service{secretFactAgent},
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("build local launcher: %w", err)
	}
	if err := secretFactTool.LaunchLocal(ctx, l.MQ); err != nil {
		return fmt.Errorf("launch secret_fact_tool: %w", err)
	}

	result, err := l.Run(ctx, tasks.TaskDefinition{TaskID: "demo-secret-fact", Input: runInput})
	if err != nil {
		return err
	}

	fmt.Println(result.Result)
	return nil
}
