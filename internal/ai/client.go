package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"asterbot/internal/config"
	"asterbot/internal/signal"
)

// chatCompleter 为 go-openai 客户端中本包使用的部分。
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Provider 通过大模型生成交易信号，实现 signal.Provider。
type Provider struct {
	cfg    config.OpenAIConfig
	logger *zap.Logger
	sdk    chatCompleter
}

// NewProvider 使用给定配置创建大模型信号源。
func NewProvider(cfg config.OpenAIConfig, logger *zap.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api_key 不能为空")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai model 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}

	return &Provider{
		cfg:    cfg,
		logger: logger,
		sdk:    openai.NewClientWithConfig(clientCfg),
	}, nil
}

// Evaluate 渲染提示词并解析模型返回的信号。
func (p *Provider) Evaluate(ctx context.Context, req signal.Request) (signal.Signal, error) {
	prompt, err := BuildPrompt(req)
	if err != nil {
		return signal.Signal{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	response, err := p.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		p.logger.Error("调用OpenAI失败", zap.String("symbol", req.Symbol), zap.Error(err))
		return signal.Signal{}, fmt.Errorf("ai: 调用OpenAI失败: %w", err)
	}

	if len(response.Choices) == 0 {
		return signal.Signal{}, errors.New("ai: OpenAI 返回结果为空")
	}

	rawContent := strings.TrimSpace(response.Choices[0].Message.Content)
	if rawContent == "" {
		return signal.Signal{}, errors.New("ai: OpenAI 返回内容为空")
	}

	sig, err := parseSignal(rawContent)
	if err != nil {
		p.logger.Error("解析模型信号失败",
			zap.Error(err),
			zap.String("raw_content", rawContent),
		)
		return signal.Signal{}, err
	}

	p.logger.Debug("AI 信号生成成功",
		zap.String("symbol", req.Symbol),
		zap.String("action", string(sig.Action)),
		zap.Float64("confidence", sig.Confidence),
	)
	return sig, nil
}

// reply 为模型需输出的 JSON 结构。
type reply struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

func parseSignal(content string) (signal.Signal, error) {
	payload, err := extractJSON(content)
	if err != nil {
		return signal.Signal{}, err
	}

	var r reply
	if err = json.Unmarshal(payload, &r); err != nil {
		return signal.Signal{}, fmt.Errorf("ai: 解析信号JSON失败: %w", err)
	}

	action, err := signal.ParseAction(r.Action)
	if err != nil {
		return signal.Signal{}, err
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return signal.Signal{}, fmt.Errorf("ai: confidence 必须在 [0,1] 区间，目前为 %f", r.Confidence)
	}

	sig := signal.Signal{Action: action, Confidence: r.Confidence}
	if reason := strings.TrimSpace(r.Reasoning); reason != "" {
		sig.Reasons = []string{reason}
	}
	return sig, nil
}

func extractJSON(content string) ([]byte, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("ai: 模型输出未找到有效JSON: %s", content)
	}

	return []byte(content[start : end+1]), nil
}
