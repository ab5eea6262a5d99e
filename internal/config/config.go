// Package config assembles the engine's environment-variable driven
// configuration into one composed value: a flat struct rather than a
// generic config-file layer.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aragora/aragora/internal/types"
)

// ServerConfig controls the HTTP/WS listener.
type ServerConfig struct {
	Port            string
	BindAddr        string
	AllowedOrigins  []string
	WSMaxFrameBytes int64
	LogLevel        string
	TLSCertFile     string
	TLSKeyFile      string
	EnableHTTP3     bool
}

// AuthConfig controls bearer-token validation.
type AuthConfig struct {
	HMACKey         string
	TokenTTLSeconds int
	Required        bool
}

// RateLimitConfig controls the token bucket defaults.
type RateLimitConfig struct {
	PerTokenPerMinute int
	PerIPPerMinute    int
}

// ProviderConfig carries LLM/embedding provider API keys and selection.
type ProviderConfig struct {
	OpenAIKey         string
	GeminiKey         string
	EmbeddingProvider types.EmbeddingProvider
}

// DebateDefaults seeds the Orchestrator's configurable knobs when a debate
// request does not override them.
type DebateDefaults struct {
	Rounds                int
	Consensus             types.ConsensusPolicy
	ConsensusThreshold    float64
	ConvergenceSimilarity float64
	MinParticipants       int
	QualificationPenalty  float64
	LeaderboardWeight     float64
}

// Config is the fully composed configuration for one engine instance.
type Config struct {
	Server      ServerConfig
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	Provider    ProviderConfig
	Debate      DebateDefaults
	DataDir     string
}

// Load reads configuration from the process environment. Callers are
// expected to call godotenv.Load() beforehand (see cmd/root.go) so .env
// entries are already present in os.Environ().
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			BindAddr:        getEnv("BIND_ADDR", "0.0.0.0"),
			AllowedOrigins:  splitCSV(getEnv("ALLOWED_ORIGINS", "*")),
			WSMaxFrameBytes: getEnvInt64("WS_MAX_FRAME", 64*1024),
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			TLSCertFile:     os.Getenv("TLS_CERT_FILE"),
			TLSKeyFile:      os.Getenv("TLS_KEY_FILE"),
			EnableHTTP3:     os.Getenv("ENABLE_HTTP3") == "true",
		},
		Auth: AuthConfig{
			HMACKey:         os.Getenv("AUTH_TOKEN_HMAC_KEY"),
			TokenTTLSeconds: getEnvInt("TOKEN_TTL_SECONDS", 3600),
			Required:        os.Getenv("AUTH_TOKEN_HMAC_KEY") != "",
		},
		RateLimit: RateLimitConfig{
			PerTokenPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
			PerIPPerMinute:    getEnvInt("IP_RATE_LIMIT_PER_MINUTE", 120),
		},
		Provider: ProviderConfig{
			OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
			GeminiKey:         os.Getenv("GEMINI_API_KEY"),
			EmbeddingProvider: types.EmbeddingProvider(getEnv("EMBEDDING_PROVIDER", string(types.EmbeddingAuto))),
		},
		Debate: DebateDefaults{
			Rounds:                getEnvInt("DEBATE_DEFAULT_ROUNDS", 5),
			Consensus:             types.ConsensusPolicy(getEnv("DEBATE_DEFAULT_CONSENSUS", string(types.ConsensusMajority))),
			ConsensusThreshold:    getEnvFloat("DEBATE_CONSENSUS_THRESHOLD", 0.66),
			ConvergenceSimilarity: getEnvFloat("DEBATE_CONVERGENCE_SIMILARITY", 0.95),
			MinParticipants:       getEnvInt("DEBATE_MIN_PARTICIPANTS", 2),
			QualificationPenalty:  getEnvFloat("FLIP_QUALIFICATION_PENALTY", 0.0),
			LeaderboardWeight:     getEnvFloat("LEADERBOARD_WEIGHT", 1.0),
		},
		DataDir: getEnv("DATA_DIR", "data"),
	}
}

// TokenTTL returns the configured token lifetime as a duration.
func (c AuthConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
