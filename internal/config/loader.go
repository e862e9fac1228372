package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Validate when the corresponding field is zero.
const (
	DefaultListenAddr           = ":8080"
	DefaultContextMaxTokens     = 4096
	DefaultCompressionThreshold = 0.8
	DefaultKeepRecentTurns      = 4
	DefaultIdleTimeout          = 30 * time.Minute
	DefaultSweepInterval        = 5 * time.Minute
	DefaultTranscribeTimeout    = 30 * time.Second
	DefaultCompleteTimeout      = 120 * time.Second
	DefaultSynthesizeTimeout    = 60 * time.Second
	DefaultSummarizeTimeout     = 60 * time.Second
)

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: load %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r and validates the result. Unknown fields
// are rejected so typos fail fast instead of silently using defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies defaults for optional fields and checks the rest. All
// problems are reported at once via errors.Join.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if !c.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level: unknown level %q", c.Server.LogLevel))
	}

	errs = append(errs, c.LLM.Main.validate("llm.main")...)
	errs = append(errs, c.LLM.Summary.validate("llm.summary")...)

	if c.Context.MaxTokens == 0 {
		c.Context.MaxTokens = DefaultContextMaxTokens
	}
	if c.Context.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("context.max_tokens: must be positive, got %d", c.Context.MaxTokens))
	}
	if c.Context.CompressionThreshold == 0 {
		c.Context.CompressionThreshold = DefaultCompressionThreshold
	}
	if c.Context.CompressionThreshold <= 0 || c.Context.CompressionThreshold >= 1 {
		errs = append(errs, fmt.Errorf("context.compression_threshold: must be in (0, 1), got %g", c.Context.CompressionThreshold))
	}
	if c.Context.KeepRecentTurns == 0 {
		c.Context.KeepRecentTurns = DefaultKeepRecentTurns
	}
	if c.Context.KeepRecentTurns < 0 {
		errs = append(errs, fmt.Errorf("context.keep_recent_turns: must be positive, got %d", c.Context.KeepRecentTurns))
	}

	if c.STT.ModelPath != "" && c.STT.Language == "" {
		c.STT.Language = "auto"
	}
	if c.TTS.ModelPath != "" && c.TTS.PiperPath == "" {
		c.TTS.PiperPath = "piper"
	}
	if c.TTS.LengthScale < 0 {
		errs = append(errs, fmt.Errorf("tts.length_scale: must not be negative, got %g", c.TTS.LengthScale))
	}

	c.Session.applyDefaults()
	if c.Session.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.idle_timeout: must not be negative, got %s", c.Session.IdleTimeout))
	}
	if c.Session.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("session.sweep_interval: must be positive, got %s", c.Session.SweepInterval))
	}

	if c.Store.PostgresDSN == "" {
		slog.Warn("no store configured, sessions will not survive restarts")
	}

	return errors.Join(errs...)
}

func (p *ModelProfile) validate(prefix string) []error {
	var errs []error

	if p.Backend == "" {
		p.Backend = BackendOpenAI
	}
	if !p.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("%s.backend: unknown backend %q", prefix, p.Backend))
	}
	if p.Backend == BackendAnyLLM && p.Vendor == "" {
		errs = append(errs, fmt.Errorf("%s.vendor: required for the anyllm backend", prefix))
	}
	if p.Model == "" {
		errs = append(errs, fmt.Errorf("%s.model: required", prefix))
	}
	if p.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("%s.max_tokens: must not be negative, got %d", prefix, p.MaxTokens))
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		errs = append(errs, fmt.Errorf("%s.temperature: must be in [0, 2], got %g", prefix, p.Temperature))
	}
	return errs
}

func (s *SessionConfig) applyDefaults() {
	if s.IdleTimeout == 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.SweepInterval == 0 {
		s.SweepInterval = DefaultSweepInterval
	}
	if s.TranscribeTimeout == 0 {
		s.TranscribeTimeout = DefaultTranscribeTimeout
	}
	if s.CompleteTimeout == 0 {
		s.CompleteTimeout = DefaultCompleteTimeout
	}
	if s.SynthesizeTimeout == 0 {
		s.SynthesizeTimeout = DefaultSynthesizeTimeout
	}
	if s.SummarizeTimeout == 0 {
		s.SummarizeTimeout = DefaultSummarizeTimeout
	}
}

// SlogLevel converts the configured level to its slog equivalent.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
