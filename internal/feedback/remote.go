package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/simutrade/practice-engine/internal/model"
)

// RemoteConfig configures the chat-completion generator. BaseURL points at
// any OpenAI-compatible endpoint.
type RemoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// RemoteAdapter calls a chat-completion API and parses its JSON reply into
// a Feedback. Every failure mode collapses to ErrUnavailable.
type RemoteAdapter struct {
	cfg    RemoteConfig
	client *http.Client
}

// NewRemoteAdapter creates the adapter. Returns nil if no API key is
// configured, signalling callers to use the fallback only.
func NewRemoteAdapter(cfg RemoteConfig) *RemoteAdapter {
	if cfg.APIKey == "" {
		return nil
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &RemoteAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// feedbackPayload is the JSON shape the model is instructed to return.
type feedbackPayload struct {
	Sentiment   string   `json:"sentiment"`
	Analysis    string   `json:"analysis"`
	Suggestions []string `json:"suggestions"`
	RiskLevel   string   `json:"risk_level"`
}

const systemPrompt = "You are an expert trading coach providing educational feedback to help practice traders improve. Always be constructive. Reply with a single JSON object with fields: sentiment (positive|neutral|negative), analysis (2-3 sentences), suggestions (array of 1-3 strings), risk_level (low|medium|high)."

// Generate calls the remote API.
func (a *RemoteAdapter) Generate(ctx context.Context, req Request) (*model.Feedback, error) {
	state := "open"
	if req.Closed {
		state = "completed"
	}
	prompt := fmt.Sprintf(
		"Analyze this %s practice trade and provide constructive feedback.\n"+
			"Action: %s %s shares of %s at %s\n"+
			"Exit price: %s\nRealized P&L: %s\n"+
			"Market change vs open: %s%%\n"+
			"Trader: experience=%s, completed trades=%d, lifetime P&L=%s",
		state, req.Side, req.Quantity, req.Symbol, req.EntryPrice.StringFixed(2),
		req.ExitPrice.StringFixed(2), req.PnL.StringFixed(2),
		req.ChangePercent.StringFixed(2),
		req.ExperienceLevel, req.TradeCount, req.TotalPnL.StringFixed(2),
	)

	body, err := json.Marshal(chatRequest{
		Model: a.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.7,
		MaxTokens:   500,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty completion", ErrUnavailable)
	}

	var payload feedbackPayload
	if err := json.Unmarshal([]byte(chat.Choices[0].Message.Content), &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed completion: %v", ErrUnavailable, err)
	}

	fb := &model.Feedback{
		TradeID:     req.TradeID,
		Sentiment:   model.Sentiment(payload.Sentiment),
		Analysis:    payload.Analysis,
		Suggestions: payload.Suggestions,
		RiskLevel:   model.RiskLevel(payload.RiskLevel),
		Source:      "remote",
	}
	switch fb.Sentiment {
	case model.SentimentPositive, model.SentimentNeutral, model.SentimentNegative:
	default:
		return nil, fmt.Errorf("%w: unknown sentiment %q", ErrUnavailable, payload.Sentiment)
	}
	switch fb.RiskLevel {
	case model.RiskLow, model.RiskMedium, model.RiskHigh:
	default:
		fb.RiskLevel = model.RiskMedium
	}
	return fb, nil
}
