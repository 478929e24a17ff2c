package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv, AppPort string
	DBDSN           string
	DBAutoMigrate   bool
	RedisAddr       string
	RedisDB         int
	CORSOrigins     []string

	VisionProvider string
	VisionDryRun   bool
	VisionTimeout  time.Duration
	VisionCacheTTL time.Duration

	GeminiKey, GeminiModel       string
	OpenAIKey, OpenAIModel       string
	AnthropicKey, AnthropicModel string

	OpenAIRPS          int
	OpenAIBurst        int
	ProviderMaxRetries int

	VisionImgMaxW      int
	VisionImgQuality   int
	VisionImgGrayscale bool

	NameEngine string
	OCRLang    string

	UploadDir          string
	MaxBodyLimit       int
	AllowedMaxFileSize int
	AllowedFileExt     []string

	RateLimitMax    int
	RateLimitWindow time.Duration

	CropCount        int
	QuestionsPerCrop int
}

func Load() *Config {
	_ = godotenv.Load()
	return build(must("DB_DSN"))
}

// LoadNoDB is Load for commands that never open the database.
func LoadNoDB() *Config {
	_ = godotenv.Load()
	return build(get("DB_DSN", ""))
}

func build(dsn string) *Config {
	c := &Config{
		AppEnv:             get("APP_ENV", "dev"),
		AppPort:            get("APP_PORT", "8000"),
		DBDSN:              dsn,
		DBAutoMigrate:      parseBool(get("DB_AUTO_MIGRATE", "true")),
		RedisAddr:          get("REDIS_ADDR", ""),
		RedisDB:            atoi(get("REDIS_DB", "0")),
		CORSOrigins:        split(get("CORS_ORIGINS", "http://localhost:5173")),
		VisionProvider:     strings.ToLower(get("VISION_PROVIDER", "gemini")),
		VisionDryRun:       parseBool(get("VISION_DRY_RUN", "false")),
		VisionTimeout:      mustDuration(get("VISION_TIMEOUT", "90s")),
		VisionCacheTTL:     mustDuration(get("VISION_CACHE_TTL", "168h")),
		GeminiKey:          get("GEMINI_API_KEY", ""),
		GeminiModel:        get("GEMINI_MODEL", "gemini-2.0-flash"),
		OpenAIKey:          get("OPENAI_API_KEY", ""),
		OpenAIModel:        get("OPENAI_MODEL", "gpt-4o-mini"),
		AnthropicKey:       get("ANTHROPIC_API_KEY", ""),
		AnthropicModel:     get("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest"),
		OpenAIRPS:          atoi(get("OPENAI_RPS", "2")),
		OpenAIBurst:        atoi(get("OPENAI_BURST", "2")),
		ProviderMaxRetries: atoi(get("PROVIDER_MAX_RETRIES", "3")),
		VisionImgMaxW:      atoi(get("VISION_IMG_MAX_W", "1600")),
		VisionImgQuality:   atoi(get("VISION_IMG_QUALITY", "85")),
		VisionImgGrayscale: parseBool(get("VISION_IMG_GRAYSCALE", "false")),
		NameEngine:         strings.ToLower(get("NAME_ENGINE", "vision")),
		OCRLang:            get("OCR_LANG", "eng"),
		UploadDir:          get("UPLOAD_DIR", "./uploads"),
		MaxBodyLimit:       GetEnvInt("MAX_BODY_LIMIT_MB", 50),
		AllowedMaxFileSize: GetEnvInt("ALLOWED_MAX_FILE_SIZE", 10),
		AllowedFileExt:     GetEnvList("ALLOWED_FILE_EXT", []string{".jpg", ".jpeg", ".png"}),
		RateLimitMax:       GetEnvInt("RATE_LIMIT_MAX", 30),
		RateLimitWindow:    mustDuration(get("RATE_LIMIT_WINDOW", "1m")),
		CropCount:          GetEnvInt("CROP_COUNT", 5),
		QuestionsPerCrop:   GetEnvInt("QUESTIONS_PER_CROP", 10),
	}
	return c
}

// Providers returns the vision providers that have credentials, primary first.
func (c *Config) Providers() []string {
	have := map[string]bool{
		"gemini":    c.GeminiKey != "",
		"openai":    c.OpenAIKey != "",
		"anthropic": c.AnthropicKey != "",
	}
	var out []string
	if have[c.VisionProvider] || c.VisionDryRun {
		out = append(out, c.VisionProvider)
	}
	for _, p := range []string{"gemini", "openai", "anthropic"} {
		if p != c.VisionProvider && have[p] {
			out = append(out, p)
		}
	}
	return out
}

func GetEnvInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return d
}

func GetEnvList(k string, d []string) []string {
	if v := os.Getenv(k); v != "" {
		return strings.Split(v, ",")
	}
	return d
}

func get(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		log.Fatalf("missing env %s", k)
	}
	return v
}
func atoi(s string) int       { i, _ := strconv.Atoi(s); return i }
func parseBool(s string) bool { b, _ := strconv.ParseBool(s); return b }
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
func split(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func GetEnv(k, d string) string {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	return v
}
