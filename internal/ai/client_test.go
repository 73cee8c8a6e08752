package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"asterbot/internal/config"
	"asterbot/internal/signal"
)

type stubCompleter struct {
	content string
	err     error
	last    openai.ChatCompletionRequest
}

func (s *stubCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.last = req
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: s.content}}},
	}, nil
}

func newTestProvider(sdk chatCompleter) *Provider {
	return &Provider{
		cfg:    config.OpenAIConfig{Model: "gpt-test", Timeout: time.Second},
		logger: zap.NewNop(),
		sdk:    sdk,
	}
}

func TestNewProviderRequiresKeyAndModel(t *testing.T) {
	_, err := NewProvider(config.OpenAIConfig{Model: "gpt-4.1"}, nil)
	require.Error(t, err)

	_, err = NewProvider(config.OpenAIConfig{APIKey: "sk"}, nil)
	require.Error(t, err)

	p, err := NewProvider(config.OpenAIConfig{APIKey: "sk", Model: "gpt-4.1"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestEvaluateParsesFencedJSON(t *testing.T) {
	stub := &stubCompleter{content: "```json\n{\"action\":\"sell\",\"confidence\":0.72,\"reasoning\":\"动能转弱\"}\n```"}
	p := newTestProvider(stub)

	sig, err := p.Evaluate(context.Background(), signal.Request{Symbol: "BTCUSDT", Price: 100, Closes: []float64{99, 100}})
	require.NoError(t, err)

	assert.Equal(t, signal.ActionSell, sig.Action)
	assert.InDelta(t, 0.72, sig.Confidence, 1e-9)
	assert.Equal(t, []string{"动能转弱"}, sig.Reasons)
	assert.Equal(t, "gpt-test", stub.last.Model)
	require.Len(t, stub.last.Messages, 1)
	assert.Contains(t, stub.last.Messages[0].Content, "BTCUSDT")
}

func TestEvaluateRejectsInvalidReplies(t *testing.T) {
	for name, content := range map[string]string{
		"no json":           "无法判断",
		"unknown action":    `{"action":"LONG","confidence":0.5}`,
		"confidence range":  `{"action":"BUY","confidence":1.5}`,
		"malformed payload": `{"action":}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := newTestProvider(&stubCompleter{content: content}).Evaluate(context.Background(), signal.Request{})
			require.Error(t, err)
		})
	}
}

func TestEvaluateWrapsTransportErrors(t *testing.T) {
	cause := errors.New("rate limited")
	_, err := newTestProvider(&stubCompleter{err: cause}).Evaluate(context.Background(), signal.Request{})
	assert.ErrorIs(t, err, cause)
}

func TestBuildPromptIncludesIndicatorsWhenWindowIsLongEnough(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}

	prompt, err := BuildPrompt(signal.Request{Symbol: "ETHUSDT", Price: 129, Closes: closes})
	require.NoError(t, err)
	assert.Contains(t, prompt, "RSI")

	short, err := BuildPrompt(signal.Request{Symbol: "ETHUSDT", Price: 101, Closes: closes[:3]})
	require.NoError(t, err)
	assert.NotContains(t, short, "RSI:")
}
