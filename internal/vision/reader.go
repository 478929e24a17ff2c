package vision

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/emandor/omr_service/internal/img"
	"github.com/emandor/omr_service/internal/model"
	"github.com/emandor/omr_service/internal/telemetry"
)

// Cache stores raw model replies. cache.Store satisfies it.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, val string, ttl time.Duration) error
}

// Reader turns images into readings through a vision Client.
type Reader struct {
	client  Client
	prep    img.PrepOptions
	cache   Cache
	ttl     time.Duration
	timeout time.Duration
}

type Option func(*Reader)

func WithCache(c Cache, ttl time.Duration) Option {
	return func(r *Reader) { r.cache, r.ttl = c, ttl }
}

func WithPrep(p img.PrepOptions) Option {
	return func(r *Reader) { r.prep = p }
}

// WithTimeout bounds every model call.
func WithTimeout(d time.Duration) Option {
	return func(r *Reader) { r.timeout = d }
}

func NewReader(client Client, opts ...Option) *Reader {
	r := &Reader{client: client, prep: img.PrepOptions{MaxW: 1600, Quality: 85}}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ReadSheet reads a whole photographed sheet.
func (r *Reader) ReadSheet(ctx context.Context, image []byte, key model.Answers) (model.Reading, error) {
	text, err := r.generate(ctx, "sheet", BuildSheetPrompt(key), image)
	if err != nil {
		return model.Reading{}, err
	}
	return ParseReading(text)
}

// ReadRegion reads an image already cropped to the bubble grid.
func (r *Reader) ReadRegion(ctx context.Context, image []byte, key model.Answers) (model.Reading, error) {
	text, err := r.generate(ctx, "region", BuildRegionPrompt(key), image)
	if err != nil {
		return model.Reading{}, err
	}
	return ParseReading(text)
}

// ReadRange reads a strip holding questions first..last; anything the model
// reports outside that range is dropped.
func (r *Reader) ReadRange(ctx context.Context, image []byte, first, last int, key model.Answers) (model.Reading, error) {
	text, err := r.generate(ctx, "range", BuildRangePrompt(first, last, key), image)
	if err != nil {
		return model.Reading{}, err
	}
	rd, err := ParseReading(text)
	if err != nil {
		return model.Reading{}, err
	}
	rd.Responses = InRange(rd.Responses, first, last)
	return rd, nil
}

func (r *Reader) ReadAnswerKey(ctx context.Context, image []byte) (model.KeyReading, error) {
	text, err := r.generate(ctx, "answer_key", BuildAnswerKeyPrompt(), image)
	if err != nil {
		return model.KeyReading{}, err
	}
	return ParseKeyReading(text)
}

func (r *Reader) ReadName(ctx context.Context, image []byte) (model.NameFields, error) {
	text, err := r.generate(ctx, "name", BuildNamePrompt(), image)
	if err != nil {
		return model.NameFields{}, err
	}
	return ParseNameFields(text)
}

func (r *Reader) generate(ctx context.Context, kind, prompt string, image []byte) (string, error) {
	log := telemetry.L().With().Str("kind", kind).Logger()

	prep, err := img.PrepareForVision(image, r.prep)
	if err != nil {
		return "", errors.Wrap(err, "decode image")
	}

	key := kind + ":" + img.Hash(append([]byte(prompt), prep.Bytes...))
	if r.cache != nil {
		if txt, err := r.cache.Get(ctx, key); err == nil && txt != "" {
			log.Info().Int("len", len(txt)).Msg("vision_cache_hit")
			return txt, nil
		}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	rep, err := r.client.Generate(ctx, Request{Prompt: prompt, Image: prep.Bytes, MIME: prep.MIME})
	if err != nil {
		log.Error().Err(err).Msg("vision_call_failed")
		return "", errors.Wrap(err, "vision call")
	}
	log.Info().
		Str("provider", string(rep.Source)).
		Int("latency_ms", rep.LatencyMs).
		Int("len", len(rep.Text)).
		Msg("vision_call_done")

	if r.cache != nil && r.ttl > 0 {
		if _, ok := ExtractJSON(rep.Text); ok {
			if err := r.cache.Set(context.WithoutCancel(ctx), key, rep.Text, r.ttl); err != nil {
				log.Warn().Err(err).Msg("vision_cache_set_err")
			}
		}
	}
	return rep.Text, nil
}
