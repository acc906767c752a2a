package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dgallion1/docmd/internal/chunker"
	"github.com/dgallion1/docmd/internal/dispatch"
	"github.com/dgallion1/docmd/internal/engine"
)

type Config struct {
	Port     string
	LogLevel slog.Level

	// Auth for the HTTP API
	APIKey string

	// Engines
	DefaultEngine      string
	Model              string
	AnthropicAPIKey    string
	AnthropicModel     string
	AnthropicURL       string
	GeminiAPIKey       string
	GeminiModel        string
	TesseractLanguages []string

	// Planning
	MaxTokensPerChunk int
	MaxPagesPerChunk  int
	OverlapTokens     int
	ImageTokens       int

	// Dispatch
	ConcurrencyLimit int
	Timeout          time.Duration
	MaxRetryAttempts int
	BackoffBase      time.Duration
	BackoffMax       time.Duration

	// Run
	DocConcurrency int
	StitchNotice   bool
	InputDir       string
	OutputDir      string

	// Server worker pool
	WorkerCount    int
	MaxQueueSize   int
	MaxUploadBytes int64
	JobTTL         time.Duration

	// Server stats retention
	StatsWindow          time.Duration
	StatsMaxSamples      int
	SummaryKeepDocuments int
	SummaryKeepSamples   int

	// Persistence
	ReportDB        string
	ResultCacheSize int
	ResultCacheTTL  time.Duration
	OutputURL       string
	OutputAPIKey    string

	// Per-engine overrides loaded from ENGINE_PROFILES
	ProfilesPath string
	Profiles     map[string]Profile

	// PDF
	PDFFallbackPdftotext bool
}

// Profile overrides planning and dispatch settings for one engine. Unset
// fields inherit the global value.
type Profile struct {
	Model             string   `yaml:"model"`
	MaxTokensPerChunk *int     `yaml:"max_tokens_per_chunk"`
	MaxPagesPerChunk  *int     `yaml:"max_pages_per_chunk"`
	OverlapTokens     *int     `yaml:"overlap_tokens"`
	ConcurrencyLimit  *int     `yaml:"concurrency_limit"`
	TimeoutSeconds    *float64 `yaml:"timeout_seconds"`
	MaxRetryAttempts  *int     `yaml:"max_retry_attempts"`
	BackoffBaseSecs   *float64 `yaml:"backoff_base_seconds"`
}

// Load reads the environment. Call godotenv.Load first to pick up a .env file.
func Load() (Config, error) {
	cfg := Config{
		Port:     envOr("PORT", "8090"),
		LogLevel: envLevel("LOG_LEVEL", slog.LevelInfo),

		APIKey: os.Getenv("DOCMD_API_KEY"),

		DefaultEngine:      strings.ToLower(envOr("DEFAULT_ENGINE", "local")),
		Model:              os.Getenv("DEFAULT_MODEL"),
		AnthropicAPIKey:    os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:     envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		AnthropicURL:       os.Getenv("ANTHROPIC_BASE_URL"),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiModel:        envOr("GEMINI_MODEL", "gemini-2.0-flash"),
		TesseractLanguages: envList("TESSERACT_LANGUAGES", []string{"eng"}),

		MaxTokensPerChunk: envInt("MAX_TOKENS_PER_CHUNK", 8000),
		MaxPagesPerChunk:  envInt("MAX_PAGES_PER_CHUNK", 4),
		OverlapTokens:     envInt("OVERLAP_TOKENS", 200),
		ImageTokens:       envInt("IMAGE_TOKENS", chunker.DefaultImageTokens),

		ConcurrencyLimit: envInt("CONCURRENCY_LIMIT", 2),
		Timeout:          envSeconds("TIMEOUT_SECONDS", 120*time.Second),
		MaxRetryAttempts: envInt("MAX_RETRY_ATTEMPTS", 3),
		BackoffBase:      envSeconds("BACKOFF_BASE_SECONDS", time.Second),
		BackoffMax:       envSeconds("BACKOFF_MAX_SECONDS", 30*time.Second),

		DocConcurrency: envInt("DOC_CONCURRENCY", 1),
		StitchNotice:   envBool("STITCH_NOTICE", false),
		InputDir:       envOr("INPUT_DIR", "data/input"),
		OutputDir:      envOr("OUTPUT_DIR", "data/output"),

		WorkerCount:    envInt("WORKER_COUNT", 2),
		MaxQueueSize:   envInt("MAX_QUEUE_SIZE", 100),
		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 100<<20),
		JobTTL:         envDuration("JOB_TTL", 1*time.Hour),

		StatsWindow:          envDuration("STATS_WINDOW", 1*time.Hour),
		StatsMaxSamples:      envInt("STATS_MAX_SAMPLES", 10000),
		SummaryKeepDocuments: envInt("SUMMARY_KEEP_DOCUMENTS", 1000),
		SummaryKeepSamples:   envInt("SUMMARY_KEEP_SAMPLES", 50000),

		ReportDB:        os.Getenv("REPORT_DB"),
		ResultCacheSize: envInt("RESULT_CACHE_SIZE", 128),
		ResultCacheTTL:  envDuration("RESULT_CACHE_TTL", 30*time.Minute),
		OutputURL:       os.Getenv("OUTPUT_URL"),
		OutputAPIKey:    os.Getenv("OUTPUT_API_KEY"),

		ProfilesPath: os.Getenv("ENGINE_PROFILES"),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),
	}

	if cfg.DocConcurrency <= 0 {
		cfg.DocConcurrency = 1
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 100 << 20
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}

	if cfg.ProfilesPath != "" {
		profiles, err := LoadProfiles(cfg.ProfilesPath)
		if err != nil {
			return cfg, err
		}
		cfg.Profiles = profiles
	}
	return cfg, nil
}

// LoadProfiles reads a YAML map of engine name to Profile.
func LoadProfiles(path string) (map[string]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read engine profiles: %w", err)
	}
	var raw map[string]Profile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse engine profiles %s: %w", path, err)
	}
	profiles := make(map[string]Profile, len(raw))
	for name, p := range raw {
		profiles[strings.ToLower(name)] = p
	}
	return profiles, nil
}

// Budget returns the global chunk budget.
func (c Config) Budget() chunker.Budget {
	return chunker.Budget{
		MaxTokens:     c.MaxTokensPerChunk,
		MaxPages:      c.MaxPagesPerChunk,
		OverlapTokens: c.OverlapTokens,
	}
}

// Policy returns the global dispatch policy.
func (c Config) Policy() dispatch.Policy {
	return dispatch.Policy{
		Timeout:     c.Timeout,
		BackoffBase: c.BackoffBase,
		BackoffMax:  c.BackoffMax,
		MaxAttempts: c.MaxRetryAttempts,
	}
}

// Tuning is the effective per-engine configuration.
type Tuning struct {
	Model       string
	Budget      chunker.Budget
	Policy      dispatch.Policy
	Concurrency int
}

// ProfileFor merges the named engine's profile over the global settings.
func (c Config) ProfileFor(engineName string) Tuning {
	t := Tuning{
		Model:       c.Model,
		Budget:      c.Budget(),
		Policy:      c.Policy(),
		Concurrency: c.ConcurrencyLimit,
	}
	p, ok := c.Profiles[strings.ToLower(engineName)]
	if !ok {
		return t
	}
	if p.Model != "" && t.Model == "" {
		t.Model = p.Model
	}
	setInt(&t.Budget.MaxTokens, p.MaxTokensPerChunk)
	setInt(&t.Budget.MaxPages, p.MaxPagesPerChunk)
	setInt(&t.Budget.OverlapTokens, p.OverlapTokens)
	setInt(&t.Concurrency, p.ConcurrencyLimit)
	setInt(&t.Policy.MaxAttempts, p.MaxRetryAttempts)
	if p.TimeoutSeconds != nil {
		t.Policy.Timeout = seconds(*p.TimeoutSeconds)
	}
	if p.BackoffBaseSecs != nil {
		t.Policy.BackoffBase = seconds(*p.BackoffBaseSecs)
	}
	return t
}

// EngineSettings returns what engine factories need.
func (c Config) EngineSettings(model string) engine.Settings {
	return engine.Settings{
		Model:              model,
		AnthropicAPIKey:    c.AnthropicAPIKey,
		AnthropicModel:     c.AnthropicModel,
		AnthropicURL:       c.AnthropicURL,
		GeminiAPIKey:       c.GeminiAPIKey,
		GeminiModel:        c.GeminiModel,
		TesseractLanguages: c.TesseractLanguages,
	}
}

// Validate reports the first setting that can never produce a valid run.
// It checks the global values and every profile, so a bad budget is caught
// before any document is dispatched.
func (c Config) Validate() error {
	if err := c.validateTuning(c.ProfileFor(""), chunker.ModePages); err != nil {
		return err
	}
	for name := range c.Profiles {
		if err := c.validateTuning(c.ProfileFor(name), chunker.ModePages); err != nil {
			return fmt.Errorf("engine profile %q: %w", name, err)
		}
	}
	if c.ImageTokens < 0 {
		return &chunker.ConfigurationError{Field: "image_tokens", Reason: fmt.Sprintf("must be >= 0, got %d", c.ImageTokens)}
	}
	return nil
}

// ValidateEngine checks the merged settings of one engine under the planning
// mode its class selects. Text engines also need overlap below the window.
func (c Config) ValidateEngine(name string, class engine.Class) error {
	if err := c.validateTuning(c.ProfileFor(name), class); err != nil {
		return fmt.Errorf("engine %q: %w", strings.ToLower(name), err)
	}
	return nil
}

func (c Config) validateTuning(t Tuning, mode chunker.Mode) error {
	if err := t.Budget.Validate(mode); err != nil {
		return err
	}
	if err := t.Policy.Validate(); err != nil {
		return err
	}
	if t.Concurrency <= 0 {
		return &chunker.ConfigurationError{Field: "concurrency_limit", Reason: fmt.Sprintf("must be > 0, got %d", t.Concurrency)}
	}
	return nil
}

// ValidateServer checks the settings only the HTTP server needs.
func (c Config) ValidateServer() error {
	if c.APIKey == "" {
		return fmt.Errorf("DOCMD_API_KEY is required")
	}
	return nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envSeconds accepts fractional seconds ("0.5").
func envSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if s, err := strconv.ParseFloat(v, 64); err == nil {
			return seconds(s)
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == '+' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envLevel(key string, fallback slog.Level) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(os.Getenv(key))); err == nil {
		return l
	}
	return fallback
}
