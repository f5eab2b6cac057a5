package ai

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/ai-interviewer/backend/internal/model/resume"
)

// DefaultTemperature is the sampling temperature used for every interviewer turn.
const DefaultTemperature float32 = 0.7

// Service generates interviewer replies. Each call is independent: the model
// sees only the system instruction and the candidate's latest utterance.
type Service struct {
	chatModel   model.BaseChatModel
	resume      resume.Provider
	temperature float32
	chain       compose.Runnable[map[string]any, *schema.Message]
}

// Option customises a Service.
type Option func(*Service)

// WithTemperature overrides DefaultTemperature.
func WithTemperature(t float32) Option {
	return func(s *Service) { s.temperature = t }
}

// NewService compiles the prompt and model chain.
func NewService(ctx context.Context, chatModel model.BaseChatModel, provider resume.Provider, opts ...Option) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if provider == nil {
		provider = resume.NewStore()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile interviewer chain: %w", err)
	}

	s := &Service{
		chatModel:   chatModel,
		resume:      provider,
		temperature: DefaultTemperature,
		chain:       runnable,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Respond returns the interviewer's next question or follow-up, verbatim.
func (s *Service) Respond(ctx context.Context, userText string) (string, error) {
	input := map[string]any{
		"system": BuildSystemPrompt(s.resume.Get()),
		"query":  userText,
	}

	response, err := s.chain.Invoke(ctx, input,
		compose.WithChatModelOption(model.WithTemperature(s.temperature)))
	if err != nil {
		return "", fmt.Errorf("failed to run interviewer chain: %w", err)
	}
	if response == nil {
		return "", errors.New("interviewer chain returned no message")
	}

	log.Printf("[ai] generated reply, length=%d", len(response.Content))
	return response.Content, nil
}
