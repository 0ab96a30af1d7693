// Package narrative turns a station forecast into a short plain-language
// summary using the OpenAI chat API.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/lox/skyscribe/internal/logging"
	"github.com/lox/skyscribe/internal/models"
	"github.com/lox/skyscribe/internal/stats"
)

const DefaultModel = "gpt-4o-mini"

// ErrDisabled is returned when no API key is configured.
var ErrDisabled = errors.New("narrative: disabled, no API key configured")

const systemPrompt = `You are a weather presenter for a small private weather station.
Summarise the forecast you are given in two or three short sentences.
Use the units implied by the field names (temp_c is degrees Celsius, humidity is percent,
wind speeds are metres per second). Do not invent quantities that are not in the data.`

type Config struct {
	APIKey  string
	Model   string
	BaseURL string // optional, for compatible endpoints
}

// Summarizer writes forecast narratives. A nil *Summarizer is valid and
// reports ErrDisabled.
type Summarizer struct {
	client openai.Client
	model  string
}

// New returns nil when cfg has no API key.
func New(cfg Config) *Summarizer {
	if cfg.APIKey == "" {
		return nil
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Summarizer{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (s *Summarizer) Enabled() bool { return s != nil }

// Forecast is the input to a narrative.
type Forecast struct {
	Location string
	Fields   []string
	Samples  []models.Sample
}

// Summarize asks the model for a narrative of f.
func (s *Summarizer) Summarize(ctx context.Context, f Forecast) (string, error) {
	if s == nil {
		return "", ErrDisabled
	}
	prompt, err := BuildPrompt(f)
	if err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("narrative request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("narrative: no choices returned")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("narrative: empty response")
	}

	logging.Debug().Str("model", s.model).Dur("duration", time.Since(start)).
		Int("chars", len(text)).Msg("narrative: generated")
	return text, nil
}

// BuildPrompt describes the forecast span and, per field, its opening and
// closing values and range.
func BuildPrompt(f Forecast) (string, error) {
	if len(f.Samples) == 0 {
		return "", fmt.Errorf("narrative: %w", stats.ErrEmpty)
	}
	first := f.Samples[0].Timestamp()
	last := f.Samples[len(f.Samples)-1].Timestamp()

	var b strings.Builder
	fmt.Fprintf(&b, "Station: %s\n", f.Location)
	fmt.Fprintf(&b, "Forecast from %s to %s UTC (%d steps)\n",
		first.Format(models.TimeLayout), last.Format(models.TimeLayout), len(f.Samples))

	for _, field := range f.Fields {
		values := make([]float64, 0, len(f.Samples))
		for _, s := range f.Samples {
			if v, ok := s.Value(field); ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		lo, _ := stats.Min(values)
		hi, _ := stats.Max(values)
		mean, _ := stats.Mean(values)
		fmt.Fprintf(&b, "- %s: starts %.1f, ends %.1f, min %.1f, max %.1f, mean %.1f\n",
			field, values[0], values[len(values)-1], lo, hi, mean)
	}
	return b.String(), nil
}
