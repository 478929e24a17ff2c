package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/emandor/omr_service/internal/telemetry"
)

const openAIURL = "https://api.openai.com/v1/chat/completions"

type OpenAI struct {
	Key, Model string
	URL        string
	DryRun     bool
	Client     *http.Client
	Limiter    *rate.Limiter
	MaxRetries int
	// base delay between retries, doubled every attempt
	Backoff time.Duration
}

func NewOpenAI(key, model string, rps, burst, maxRetries int, dryRun bool) *OpenAI {
	if rps <= 0 {
		rps = 2
	}
	if burst <= 0 {
		burst = 2
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &OpenAI{
		Key:        key,
		Model:      model,
		URL:        openAIURL,
		DryRun:     dryRun,
		Client:     &http.Client{Timeout: 90 * time.Second},
		Limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		MaxRetries: maxRetries,
		Backoff:    200 * time.Millisecond,
	}
}

func (o *OpenAI) Name() SourceName { return SourceOpenAI }

func (o *OpenAI) Generate(ctx context.Context, req Request) (Reply, error) {
	log := telemetry.L().With().Str("provider", string(o.Name())).Str("model", o.Model).Logger()
	if o.DryRun {
		log.Info().Msg("openai_dry_run_enabled")
		return dryRunReply(o.Name(), req.Prompt), nil
	}
	// detail:"high" so individual bubbles stay legible
	dataURL := "data:" + req.MIME + ";base64," + base64.StdEncoding.EncodeToString(req.Image)
	payload := map[string]any{
		"model": o.Model,
		"messages": []any{
			map[string]any{
				"role": "user",
				"content": []any{
					map[string]string{"type": "text", "text": req.Prompt},
					map[string]any{"type": "image_url", "image_url": map[string]any{"url": dataURL, "detail": "high"}},
				},
			},
		},
		"temperature":     0.0,
		"max_tokens":      2048,
		"response_format": map[string]string{"type": "json_object"},
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return Reply{}, err
	}

	var lastErr error
	start := time.Now()
	for attempt := 0; attempt <= o.MaxRetries; attempt++ {
		if attempt > 0 {
			d := o.Backoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return Reply{}, ctx.Err()
			case <-time.After(d):
			}
		}
		// retries draw from the same budget as first attempts
		if err := o.Limiter.Wait(ctx); err != nil {
			return Reply{}, err
		}

		hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.URL, bytes.NewReader(b))
		if err != nil {
			return Reply{}, err
		}
		hreq.Header.Set("Authorization", "Bearer "+o.Key)
		hreq.Header.Set("Content-Type", "application/json")

		resp, err := o.Client.Do(hreq)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return Reply{}, ctx.Err()
			}
			continue
		}

		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			txt := strings.TrimSpace(gjson.GetBytes(raw, "choices.0.message.content").String())
			if txt == "" {
				return Reply{}, errors.New("openai vision: empty choices")
			}
			rep := Reply{Source: o.Name(), Text: txt, LatencyMs: int(time.Since(start) / time.Millisecond)}
			if u := gjson.GetBytes(raw, "usage"); u.IsObject() {
				if m, ok := u.Value().(map[string]any); ok {
					rep.TokenUsage = m
				}
			}
			log.Debug().Int("latency_ms", rep.LatencyMs).Int("chars", len(txt)).Msg("openai_response")
			return rep, nil
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			log.Warn().Int("status", resp.StatusCode).Int("attempt", attempt).Msg("openai_retry")
			lastErr = errors.New("openai vision http " + resp.Status)
			continue
		}

		log.Error().Str("status", resp.Status).Str("body", truncate(string(raw), 500)).Msg("openai_http_error")
		return Reply{}, errors.New("openai vision http " + resp.Status)
	}
	return Reply{}, lastErr
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
