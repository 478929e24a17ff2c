package vision

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/emandor/omr_service/internal/telemetry"
)

type Gemini struct {
	client *genai.Client
	Model  string
	DryRun bool
}

func NewGemini(ctx context.Context, key, model string, dryRun bool) (*Gemini, error) {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	g := &Gemini{Model: model, DryRun: dryRun}
	if dryRun {
		return g, nil
	}
	if key == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create gemini client")
	}
	g.client = client
	return g, nil
}

func (c *Gemini) Name() SourceName { return SourceGemini }

func (c *Gemini) Generate(ctx context.Context, req Request) (Reply, error) {
	log := telemetry.L().With().Str("provider", string(c.Name())).Str("model", c.Model).Logger()
	if c.DryRun {
		log.Info().Msg("gemini_dry_run_enabled")
		return dryRunReply(c.Name(), req.Prompt), nil
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(req.Prompt),
			genai.NewPartFromBytes(req.Image, req.MIME),
		}, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
	}

	log.Debug().Int("image_len", len(req.Image)).Msg("gemini_request")
	t0 := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.Model, contents, cfg)
	if err != nil {
		log.Error().Err(err).Msg("gemini_request_failed")
		return Reply{}, errors.Wrap(err, "gemini generate")
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return Reply{}, errors.Errorf("gemini blocked: %s", resp.PromptFeedback.BlockReason)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return Reply{}, errors.New("gemini empty candidates")
	}

	rep := Reply{Source: c.Name(), Text: text, LatencyMs: int(time.Since(t0) / time.Millisecond)}
	if u := resp.UsageMetadata; u != nil {
		rep.TokenUsage = map[string]any{
			"prompt_tokens":     u.PromptTokenCount,
			"completion_tokens": u.CandidatesTokenCount,
			"total_tokens":      u.TotalTokenCount,
		}
	}
	log.Debug().Int("latency_ms", rep.LatencyMs).Int("chars", len(text)).Msg("gemini_response")
	return rep, nil
}
