// Package iovision implements the Vision Client (C3): a single RPC to an
// external multimodal model that returns a free-form prediction string
// plus token usage, priced via pkg/pricing (spec §4.3).
package iovision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/fieldnote/dex/pkg/errcode"
	"github.com/fieldnote/dex/pkg/pricing"
)

// Prompt is fixed per spec §4.3: request every animal present, formatted
// as "genus species [subspecies] (common name)", entries delimited by
// " | ", or the literal "NO ANIMALS FOUND" when none are present.
const Prompt = "Please identify every animal in this image — bugs, arachnids, and other " +
	"invertebrates count as animals for this task. For each one, give the most specific " +
	"identification you can. Format your answer as \"genus species [subspecies] (common name)\", " +
	"with multiple animals separated by \" | \". If you cannot identify any animal in the image, " +
	"respond with exactly \"NO ANIMALS FOUND\" and nothing else."

// Usage is the token accounting for a single Identify call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Prediction is the result of a single Identify call (spec §4.3 output).
type Prediction struct {
	Text           string
	Usage          Usage
	Raw            string
	ProcessingTime time.Duration
	CostUSD        float64
}

// SoftTimeout is the per-call deadline applied when the caller doesn't
// supply a shorter one on ctx (spec §5: soft 30s timeout).
const SoftTimeout = 30 * time.Second

// Identifier is the capability every CV backend implements (spec §9:
// "Model polymorphism on CV services is expressed by a capability
// {Identify, Name, Pricing}"). OpenAIVision-equivalent backends can
// satisfy this without touching the Job Executor.
type Identifier interface {
	Identify(ctx context.Context, image []byte, model, detail string) (Prediction, error)
	Name() string
}

// Client is the Anthropic-backed CV service.
type Client struct {
	api *anthropic.Client
}

// New constructs a Client. apiKey is read from the configured environment
// variable by the caller (spec §4.3: model pricing / client wiring is
// ambient, not domain logic).
func New(apiKey string) *Client {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Client{api: &c}
}

func (c *Client) Name() string { return "anthropic-vision" }

// Identify sends the fixed animal-ID prompt plus the image to the model
// and returns the raw prediction string, usage, and cost (spec §4.3).
// Network/transport errors and timeouts surface as errcode.UpstreamTransient
// (retryable); content-filter/quota/model-not-found surface as
// errcode.UpstreamFatal (non-retryable), per spec §7.
func (c *Client) Identify(ctx context.Context, image []byte, model, detail string) (Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, SoftTimeout)
	defer cancel()

	start := time.Now()

	imageBlock := anthropic.NewImageBlockBase64(mimeOf(image), base64.StdEncoding.EncodeToString(image))
	textBlock := anthropic.NewTextBlock(Prompt)

	maxTokens := maxTokensFor(model)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(textBlock, imageBlock),
		},
	})
	elapsed := time.Since(start)

	if err != nil {
		return Prediction{}, classify(err)
	}

	text := extractText(msg)
	usage := Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	cost := pricing.Cost(model, usage.InputTokens, usage.OutputTokens)

	return Prediction{
		Text:           text,
		Usage:          usage,
		Raw:            rawResponseOf(msg),
		ProcessingTime: elapsed,
		CostUSD:        cost,
	}, nil
}

// maxTokensFor selects the token-limit parameter by model family (spec
// §4.3: "selects the token-limit parameter name by model family" — the
// Anthropic Messages API uses a single max_tokens field regardless of
// family, so this only tunes the budget, not the parameter name).
func maxTokensFor(model string) int {
	if strings.HasPrefix(model, "claude-opus") {
		return 400
	}
	return 300
}

func extractText(msg *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

// rawResponseOf serializes the fields the Analysis Job's raw_response
// column needs for later inspection, without depending on the SDK's
// internal raw-JSON caching.
func rawResponseOf(msg *anthropic.Message) string {
	data, err := json.Marshal(struct {
		Model      string `json:"model"`
		StopReason string `json:"stop_reason"`
		Usage      Usage  `json:"usage"`
		Text       string `json:"text"`
	}{
		Model:      string(msg.Model),
		StopReason: string(msg.StopReason),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
		Text: extractText(msg),
	})
	if err != nil {
		return ""
	}
	return string(data)
}

func mimeOf(img []byte) string {
	if len(img) >= 8 && string(img[1:4]) == "PNG" {
		return "image/png"
	}
	return "image/jpeg"
}

func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return errcode.UpstreamTransient("vision request timed out", err)
		}
		return errcode.UpstreamTransient("vision transport error", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errcode.UpstreamTransient("vision request timed out", err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429:
			// 429 covers two distinct conditions: a transient rate limit
			// (retry helps) and a hard quota/credit exhaustion (retrying
			// just burns the backoff schedule; quota is a Fatal refusal).
			if isQuotaExhausted(apiErr.Error()) {
				return errcode.UpstreamFatal("vision quota exhausted", err)
			}
			return errcode.UpstreamTransient("vision rate limited", err)
		case 500, 502, 503, 504:
			return errcode.UpstreamTransient("vision service unavailable", err)
		case 400, 401, 403, 404:
			return errcode.UpstreamFatal("vision request rejected", err)
		}
	}

	return errcode.UpstreamTransient("vision request failed", err)
}

// isQuotaExhausted distinguishes a hard quota/credit refusal from a plain
// rate limit inside a 429 response body.
func isQuotaExhausted(body string) bool {
	body = strings.ToLower(body)
	return strings.Contains(body, "quota") || strings.Contains(body, "credit")
}
