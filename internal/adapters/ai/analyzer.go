// Package ai wraps the reasoning collaborator. It turns a bar history
// into a typed BUY/SELL/HOLD verdict with a free-text rationale; the
// trading core consumes the typed output only and never gates on it.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/majiajue/longbridge-sub000/internal/domain/marketdata"
	"github.com/majiajue/longbridge-sub000/internal/metrics"
	"github.com/majiajue/longbridge-sub000/pkg/errors"
	"github.com/majiajue/longbridge-sub000/pkg/logger"
)

// Action is the analyzer's verdict.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Verdict is the analyzer's typed output.
type Verdict struct {
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"` // [0,1]
	Rationale  string  `json:"rationale"`
	Entry      float64 `json:"entry,omitempty"`
	Stop       float64 `json:"stop,omitempty"`
	Target     float64 `json:"target,omitempty"`
}

// Analyzer calls the model with a compact bar summary.
type Analyzer struct {
	client  openai.Client // NewClient returns Client (not *Client)
	model   openai.ChatModel
	timeout time.Duration
	log     *logger.Logger
}

// NewAnalyzer creates an analyzer. Model defaults to gpt-4o-mini.
func NewAnalyzer(apiKey, model string, timeout time.Duration) (*Analyzer, error) {
	if apiKey == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "openai API key is required")
	}
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Analyzer{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		model:   openai.ChatModel(model),
		timeout: timeout,
		log:     logger.Get().With("component", "ai_analyzer", "model", model),
	}, nil
}

const systemPrompt = `You are an equity trading analyst. Given recent OHLCV bars,
respond with JSON only: {"action":"BUY|SELL|HOLD","confidence":0.0-1.0,
"rationale":"...","entry":0,"stop":0,"target":0}.`

// Analyze returns a verdict for the symbol's recent history.
func (a *Analyzer) Analyze(ctx context.Context, symbol string, bars []marketdata.Bar) (*Verdict, error) {
	if len(bars) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "no bars to analyze")
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: a.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(summarize(symbol, bars)),
		},
	})
	metrics.RecordAdvisorCall(a.model, time.Since(start), err)
	if err != nil {
		return nil, errors.Wrap(err, "chat completion")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.Wrap(errors.ErrInternal, "empty completion")
	}

	verdict, err := parseVerdict(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	a.log.Debugw("Analysis complete",
		"symbol", symbol, "action", verdict.Action, "confidence", verdict.Confidence)
	return verdict, nil
}

// Advise satisfies the orchestration loop's advisor contract.
func (a *Analyzer) Advise(ctx context.Context, symbol string, bars []marketdata.Bar) (string, string, float64, error) {
	v, err := a.Analyze(ctx, symbol, bars)
	if err != nil {
		return "", "", 0, err
	}
	return string(v.Action), v.Rationale, v.Confidence, nil
}

// summarize keeps the prompt small: at most the last 60 bars.
func summarize(symbol string, bars []marketdata.Bar) string {
	if len(bars) > 60 {
		bars = bars[len(bars)-60:]
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Symbol: %s\nBars (time open high low close volume):\n", symbol)
	for _, b := range bars {
		fmt.Fprintf(&sb, "%s %.4f %.4f %.4f %.4f %.0f\n",
			b.Timestamp.Format("01-02 15:04"), b.Open, b.High, b.Low, b.Close, b.Volume)
	}
	return sb.String()
}

func parseVerdict(content string) (*Verdict, error) {
	// Models sometimes wrap JSON in a code fence
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var v Verdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &v); err != nil {
		return nil, errors.Wrap(err, "decode verdict")
	}

	switch v.Action {
	case ActionBuy, ActionSell, ActionHold:
	default:
		return nil, errors.Wrapf(errors.ErrInvalidInput, "unknown action %q", v.Action)
	}
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	return &v, nil
}
