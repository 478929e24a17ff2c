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

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/emandor/omr_service/internal/telemetry"
)

const anthropicURL = "https://api.anthropic.com/v1/messages"

type Anthropic struct {
	Key, Model string
	URL        string
	DryRun     bool
	Client     *http.Client
}

func NewAnthropic(key, model string, dryRun bool) *Anthropic {
	return &Anthropic{
		Key:    key,
		Model:  model,
		URL:    anthropicURL,
		DryRun: dryRun,
		Client: &http.Client{Timeout: 90 * time.Second},
	}
}

func (c *Anthropic) Name() SourceName { return SourceClaude }

func (c *Anthropic) Generate(ctx context.Context, req Request) (Reply, error) {
	log := telemetry.L().With().Str("provider", string(c.Name())).Str("model", c.Model).Logger()
	if c.DryRun {
		log.Info().Msg("anthropic_dry_run_enabled")
		return dryRunReply(c.Name(), req.Prompt), nil
	}
	body := map[string]any{
		"model":       c.Model,
		"max_tokens":  2048,
		"temperature": 0.0,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []any{
					map[string]any{
						"type": "image",
						"source": map[string]string{
							"type":       "base64",
							"media_type": req.MIME,
							"data":       base64.StdEncoding.EncodeToString(req.Image),
						},
					},
					map[string]string{"type": "text", "text": req.Prompt},
				},
			},
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return Reply{}, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(b))
	if err != nil {
		return Reply{}, err
	}
	hreq.Header.Set("x-api-key", c.Key)
	hreq.Header.Set("anthropic-version", "2023-06-01")
	hreq.Header.Set("Content-Type", "application/json")

	t0 := time.Now()
	resp, err := c.Client.Do(hreq)
	if err != nil {
		log.Error().Err(err).Msg("anthropic_request_failed")
		return Reply{}, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().Str("status", resp.Status).Str("body", truncate(string(raw), 500)).Msg("anthropic_http_error")
		return Reply{}, errors.New("anthropic http " + resp.Status)
	}

	var sb strings.Builder
	for _, part := range gjson.GetBytes(raw, "content").Array() {
		if part.Get("type").String() == "text" {
			sb.WriteString(part.Get("text").String())
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return Reply{}, errors.New("anthropic empty content")
	}

	rep := Reply{Source: c.Name(), Text: text, LatencyMs: int(time.Since(t0) / time.Millisecond)}
	if u := gjson.GetBytes(raw, "usage"); u.IsObject() {
		if m, ok := u.Value().(map[string]any); ok {
			rep.TokenUsage = m
		}
	}
	return rep, nil
}
