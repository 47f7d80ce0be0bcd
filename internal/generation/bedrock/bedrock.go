// Package bedrock generates answers with the Amazon Bedrock Converse API.
package bedrock

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"healthai/internal/domain"
	"healthai/internal/generation"
	"healthai/internal/provider"
)

const DefaultModel = "claude-3-sonnet"

// Aliases maps short model names to Bedrock model ids.
var Aliases = map[string]string{
	"claude-3-sonnet": "anthropic.claude-3-sonnet-20240229-v1:0",
	"claude-3-haiku":  "anthropic.claude-3-haiku-20240307-v1:0",
	"claude-instant":  "anthropic.claude-instant-v1",
	"titan-text":      "amazon.titan-text-express-v1",
	"llama2":          "meta.llama2-70b-chat-v1",
}

// ResolveModel returns the model id for an alias, or name unchanged.
func ResolveModel(name string) string {
	if name == "" {
		name = DefaultModel
	}
	if id, ok := Aliases[name]; ok {
		return id
	}
	return name
}

// ConverseAPI is the part of the Bedrock runtime client used here.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

type Generator struct {
	api   ConverseAPI
	model string
}

var _ generation.Generator = (*Generator)(nil)

func New(api ConverseAPI, model string) *Generator {
	return &Generator{api: api, model: ResolveModel(model)}
}

func NewFromConfig(cfg aws.Config, model string) *Generator {
	return New(bedrockruntime.NewFromConfig(cfg), model)
}

func (g *Generator) ModelName() string { return g.model }

func (g *Generator) Generate(ctx context.Context, prompt domain.Prompt, opts generation.Options) (string, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(g.model),
		Messages: messages(prompt.Messages),
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(opts.MaxTokens)),
			Temperature: aws.Float32(float32(opts.Temperature)),
		},
	}
	if prompt.System != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: prompt.System}}
	}
	out, err := g.api.Converse(ctx, input)
	if err != nil {
		return "", provider.MapAWSError("bedrock converse", err, domain.ErrGenerationUnavailable)
	}
	switch out.StopReason {
	case types.StopReasonContentFiltered, types.StopReasonGuardrailIntervened:
		return "", fmt.Errorf("%w: bedrock stop reason %s", domain.ErrGenerationRejected, out.StopReason)
	}
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", fmt.Errorf("%w: bedrock returned no message", domain.ErrGenerationUnavailable)
	}
	var b strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			b.WriteString(text.Value)
		}
	}
	return b.String(), nil
}

func messages(in []domain.Message) []types.Message {
	out := make([]types.Message, 0, len(in))
	for _, m := range in {
		role := types.ConversationRoleUser
		if m.Role == domain.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}
	return out
}
