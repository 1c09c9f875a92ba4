package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported provider and strategy names.
const (
	EnhancerOpenAI = "openai"
	EnhancerGemini = "gemini"
	EnhancerNone   = "none"

	TTSOpenAI     = "openai"
	TTSGoogle     = "google"
	TTSElevenLabs = "elevenlabs"

	PersistDataURL = "dataurl"
	PersistStorage = "storage"
)

type Config struct {
	// Server
	APIPort            string
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Logging
	LogLevel  string
	LogPretty bool

	// Database
	DatabaseURL string

	// Redis (optional shared rate-limit store; empty = process-local windows)
	RedisURL string

	// Supabase
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseAnonKey       string
	SupabaseStorageBucket string

	// Pipeline
	PersistStrategy         string
	PipelineTimeout         time.Duration
	EnhanceTimeout          time.Duration
	MaxTextLength           int
	ShortPromptMaxChars     int
	FullDescriptionMinChars int

	// Description enhancer
	EnhancerProvider string
	OpenAIKey        string
	OpenAIChatModel  string
	GeminiKey        string
	GeminiModel      string

	// Speech synthesizer
	TTSProvider       string
	OpenAITTSModel    string
	OpenAITTSSpeed    float64
	GoogleTTSAPIKey   string // API key or empty to use service-account credentials
	GoogleTTSKeyFile  string // path or inline JSON of a service-account key
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	// Quota and abuse control
	DefaultPlan           string
	DefaultDailyLimit     int
	GuestGenerations      bool
	GuestDailyLimit       int
	RateLimitLLMPerMinute int
	RateLimitTTSPerMinute int
	AdminEmails           []string

	// Guest record sweeper
	SweeperEnabled   bool
	SweepInterval    time.Duration
	GuestRecordTTL   time.Duration
	SweepConcurrency int
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:                 getEnv("API_PORT", "8080"),
		CorsAllowedOrigins:      getEnv("CORS_ALLOWED_ORIGINS", ""),
		LogLevel:                strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogPretty:               getEnvBool("LOG_PRETTY", false),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		RedisURL:                getEnv("REDIS_URL", ""),
		SupabaseURL:             strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
		SupabaseServiceKey:      getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseAnonKey:         getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseStorageBucket:   getEnv("SUPABASE_STORAGE_BUCKET", "audio-files"),
		PersistStrategy:         strings.ToLower(getEnv("PERSIST_STRATEGY", PersistStorage)),
		PipelineTimeout:         getEnvDuration("PIPELINE_TIMEOUT", 60*time.Second),
		EnhanceTimeout:          getEnvDuration("ENHANCE_TIMEOUT", 15*time.Second),
		MaxTextLength:           getEnvInt("MAX_TEXT_LENGTH", 4000),
		ShortPromptMaxChars:     getEnvInt("SHORT_PROMPT_MAX_CHARS", 60),
		FullDescriptionMinChars: getEnvInt("FULL_DESCRIPTION_MIN_CHARS", 300),
		EnhancerProvider:        strings.ToLower(getEnv("ENHANCER_PROVIDER", EnhancerOpenAI)),
		OpenAIKey:               getEnv("OPENAI_API_KEY", ""),
		OpenAIChatModel:         getEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		GeminiKey:               getEnv("GEMINI_API_KEY", ""),
		GeminiModel:             getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		TTSProvider:             strings.ToLower(getEnv("TTS_PROVIDER", TTSOpenAI)),
		OpenAITTSModel:          getEnv("OPENAI_TTS_MODEL", "tts-1"),
		OpenAITTSSpeed:          getEnvFloat("OPENAI_TTS_SPEED", 1.0),
		GoogleTTSAPIKey:         getEnv("GOOGLE_TTS_API_KEY", ""),
		GoogleTTSKeyFile:        getEnv("GOOGLE_TTS_KEY_FILE", ""),
		ElevenLabsKey:           getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID:       getEnv("ELEVENLABS_VOICE_ID", ""),
		DefaultPlan:             getEnv("DEFAULT_PLAN", "free"),
		DefaultDailyLimit:       getEnvInt("DEFAULT_DAILY_LIMIT", 10),
		GuestGenerations:        getEnvBool("GUEST_GENERATIONS_ENABLED", true),
		GuestDailyLimit:         getEnvInt("GUEST_DAILY_LIMIT", 3),
		RateLimitLLMPerMinute:   getEnvInt("RATE_LIMIT_LLM_PER_MINUTE", 10),
		RateLimitTTSPerMinute:   getEnvInt("RATE_LIMIT_TTS_PER_MINUTE", 20),
		AdminEmails:             splitCSV(getEnv("ADMIN_EMAILS", "")),
		SweeperEnabled:          getEnvBool("SWEEPER_ENABLED", true),
		SweepInterval:           getEnvDuration("SWEEP_INTERVAL", time.Hour),
		GuestRecordTTL:          getEnvDuration("GUEST_RECORD_TTL", 7*24*time.Hour),
		SweepConcurrency:        getEnvInt("SWEEP_CONCURRENCY", 4),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
		return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required")
	}

	switch c.EnhancerProvider {
	case EnhancerOpenAI:
		if c.OpenAIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for ENHANCER_PROVIDER=openai")
		}
	case EnhancerGemini:
		if c.GeminiKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for ENHANCER_PROVIDER=gemini")
		}
	case EnhancerNone:
	default:
		return fmt.Errorf("unknown ENHANCER_PROVIDER %q (allowed: openai, gemini, none)", c.EnhancerProvider)
	}

	// Exactly one TTS backend per deployment
	switch c.TTSProvider {
	case TTSOpenAI:
		if c.OpenAIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for TTS_PROVIDER=openai")
		}
	case TTSGoogle:
		// Empty key and key file fall back to application default credentials
	case TTSElevenLabs:
		if c.ElevenLabsKey == "" {
			return fmt.Errorf("ELEVENLABS_API_KEY is required for TTS_PROVIDER=elevenlabs")
		}
	default:
		return fmt.Errorf("unknown TTS_PROVIDER %q (allowed: openai, google, elevenlabs)", c.TTSProvider)
	}

	if c.PersistStrategy != PersistDataURL && c.PersistStrategy != PersistStorage {
		return fmt.Errorf("unknown PERSIST_STRATEGY %q (allowed: dataurl, storage)", c.PersistStrategy)
	}

	if c.PipelineTimeout <= c.EnhanceTimeout {
		return fmt.Errorf("PIPELINE_TIMEOUT (%s) must exceed ENHANCE_TIMEOUT (%s)", c.PipelineTimeout, c.EnhanceTimeout)
	}

	if c.MaxTextLength <= 0 {
		return fmt.Errorf("MAX_TEXT_LENGTH must be positive")
	}

	return nil
}

// IsAdminEmail reports whether email is on the configured administrator list.
func (c *Config) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, e := range c.AdminEmails {
		if strings.ToLower(e) == email {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
