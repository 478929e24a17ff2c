package vision

import (
	"context"

	"github.com/emandor/omr_service/internal/config"
)

// BuildChain creates a client for every provider with credentials, primary
// provider first.
func BuildChain(ctx context.Context, cfg *config.Config) (Chain, error) {
	var list Chain
	for _, name := range cfg.Providers() {
		switch name {
		case "gemini":
			g, err := NewGemini(ctx, cfg.GeminiKey, cfg.GeminiModel, cfg.VisionDryRun)
			if err != nil {
				return nil, err
			}
			list = append(list, g)
		case "openai":
			list = append(list, NewOpenAI(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIRPS, cfg.OpenAIBurst, cfg.ProviderMaxRetries, cfg.VisionDryRun))
		case "anthropic":
			list = append(list, NewAnthropic(cfg.AnthropicKey, cfg.AnthropicModel, cfg.VisionDryRun))
		}
	}
	if len(list) == 0 {
		return nil, ErrNoProvider
	}
	return list, nil
}
