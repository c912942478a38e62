package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/senarios/aris/pkg/models"
)

// RuntimeClient mirrors the subset of the Bedrock runtime client the
// adapter needs, so tests can pass a fake.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockClient implements Client over the AWS Bedrock Converse API.
type BedrockClient struct {
	runtime RuntimeClient
	timeout time.Duration
	logger  *slog.Logger
}

var _ Client = (*BedrockClient)(nil)

// NewBedrockClient builds a client for the given region. timeout bounds a
// single Converse round trip.
func NewBedrockClient(ctx context.Context, region string, timeout time.Duration) (*BedrockClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewBedrockClientFromRuntime(bedrockruntime.NewFromConfig(cfg), timeout), nil
}

// NewBedrockClientFromRuntime wraps an existing runtime client (useful for
// testing).
func NewBedrockClientFromRuntime(runtime RuntimeClient, timeout time.Duration) *BedrockClient {
	return &BedrockClient{
		runtime: runtime,
		timeout: timeout,
		logger:  slog.Default(),
	}
}

// Converse performs one LLM exchange. With tools and an executor it runs
// the standard request/execute/resume loop bounded by MaxRecursions.
func (c *BedrockClient) Converse(ctx context.Context, input ConverseInput) (string, error) {
	messages := encodeMessages(input.Messages)
	system := encodeSystem(input.System)

	toolConfig, err := encodeTools(input.Tools)
	if err != nil {
		return "", err
	}
	useTools := toolConfig != nil && input.ToolExecutor != nil

	maxRecursions := input.MaxRecursions
	if maxRecursions <= 0 {
		maxRecursions = DefaultMaxRecursions
	}

	for recursion := 0; ; recursion++ {
		req := &bedrockruntime.ConverseInput{
			ModelId:  &input.ModelID,
			Messages: messages,
			System:   system,
			InferenceConfig: &brtypes.InferenceConfiguration{
				Temperature: float32Ptr(input.Temperature),
			},
		}
		if useTools {
			req.ToolConfig = toolConfig
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		output, err := c.runtime.Converse(callCtx, req)
		cancel()
		if err != nil {
			return "", fmt.Errorf("bedrock converse: %w", err)
		}

		msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
		if !ok {
			return "", fmt.Errorf("bedrock converse: unexpected output type %T", output.Output)
		}

		if !useTools || output.StopReason != brtypes.StopReasonToolUse {
			return extractText(msg.Value), nil
		}

		if recursion >= maxRecursions {
			c.logger.Warn("Max tool recursions reached", "max", maxRecursions)
			return "I apologize, but I've reached the maximum number of tool calls allowed.", nil
		}

		messages = append(messages, msg.Value)

		toolResults, err := c.executeToolUses(ctx, msg.Value, input.ToolExecutor)
		if err != nil {
			return "", err
		}
		messages = append(messages, brtypes.Message{
			Role:    brtypes.ConversationRoleUser,
			Content: toolResults,
		})
	}
}

// executeToolUses runs every tool-use block of an assistant message and
// packages the results for the resume turn. Tool failures become error
// results for the model, never Go errors.
func (c *BedrockClient) executeToolUses(ctx context.Context, msg brtypes.Message, executor ToolExecutor) ([]brtypes.ContentBlock, error) {
	var results []brtypes.ContentBlock
	for _, block := range msg.Content {
		use, ok := block.(*brtypes.ContentBlockMemberToolUse)
		if !ok {
			continue
		}

		var input map[string]any
		if use.Value.Input != nil {
			if err := use.Value.Input.UnmarshalSmithyDocument(&input); err != nil {
				input = map[string]any{}
			}
		}

		name := deref(use.Value.Name)
		result, err := executor.ExecuteTool(ctx, name, input)

		toolResult := brtypes.ToolResultBlock{ToolUseId: use.Value.ToolUseId}
		if err != nil {
			c.logger.Warn("Tool execution failed inside LLM loop",
				"tool", name, "error", err)
			toolResult.Status = brtypes.ToolResultStatusError
			toolResult.Content = []brtypes.ToolResultContentBlock{
				&brtypes.ToolResultContentBlockMemberText{Value: "Error: " + err.Error()},
			}
		} else {
			encoded, merr := json.Marshal(result)
			if merr != nil {
				encoded = []byte(fmt.Sprintf("%q", fmt.Sprint(result)))
			}
			toolResult.Content = []brtypes.ToolResultContentBlock{
				&brtypes.ToolResultContentBlockMemberText{Value: string(encoded)},
			}
		}
		results = append(results, &brtypes.ContentBlockMemberToolResult{Value: toolResult})
	}
	return results, nil
}

func encodeMessages(messages []Message) []brtypes.Message {
	out := make([]brtypes.Message, 0, len(messages))
	for _, m := range messages {
		role := brtypes.ConversationRoleUser
		if m.Role == RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		out = append(out, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
		})
	}
	return out
}

func encodeSystem(system string) []brtypes.SystemContentBlock {
	if system == "" {
		return nil
	}
	return []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: system}}
}

// encodeTools converts tool descriptors into Bedrock's ToolConfiguration.
func encodeTools(tools []models.ToolDescriptor) (*brtypes.ToolConfiguration, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	encoded := make([]brtypes.Tool, 0, len(tools))
	for _, t := range tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		name := t.Name
		desc := t.Description
		encoded = append(encoded, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        &name,
				Description: strPtrOrNil(desc),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(schema),
				},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: encoded}, nil
}

func extractText(msg brtypes.Message) string {
	text := ""
	for _, block := range msg.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			if text != "" {
				text += "\n"
			}
			text += tb.Value
		}
	}
	return text
}

func float32Ptr(v float64) *float32 {
	f := float32(v)
	return &f
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
