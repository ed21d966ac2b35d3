package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type TextConfig struct {
	ChunkMaxChars    int  `yaml:"chunk_max_chars"`
	ForceAUSpelling  bool `yaml:"force_au_spelling"`
	EnsureTerminator bool `yaml:"ensure_terminator"`
}

type AudioConfig struct {
	SampleRate   int  `yaml:"sample_rate"`
	Channels     int  `yaml:"channels"`
	BitDepth     int  `yaml:"bit_depth"`
	FadeMS       int  `yaml:"fade_ms"`
	Normalize    bool `yaml:"normalize"`
	GuardPhrases bool `yaml:"guard_phrases"`
}

type TTSConfig struct {
	Mode             string  `yaml:"mode"` // mock, http, exec
	Endpoint         string  `yaml:"endpoint"`
	APIKey           string  `yaml:"api_key"`
	Command          string  `yaml:"command"`
	Voice            string  `yaml:"voice"`
	Temperature      float64 `yaml:"temperature"`
	Speed            float64 `yaml:"speed"`
	RetryAttempts    int     `yaml:"retry_attempts"`
	CallsPerMinute   int     `yaml:"calls_per_minute"`
	TimeoutMS        int     `yaml:"timeout_ms"`
	TimeoutPerCharMS int     `yaml:"timeout_per_char_ms"`
	TimeoutCapMS     int     `yaml:"timeout_cap_ms"`
	InterCallDelayMS int     `yaml:"inter_call_delay_ms"`
}

type STTConfig struct {
	Mode      string `yaml:"mode"` // mock, exec
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
}

type VerificationConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Threshold   float64 `yaml:"threshold"`
	WordTimings bool    `yaml:"word_timings"`
}

type PipelineConfig struct {
	OutputDir             string  `yaml:"output_dir"`
	CoverageThreshold     float64 `yaml:"coverage_threshold"`
	RegenAttempts         int     `yaml:"regen_attempts"`
	RegenTimeoutFactor    int     `yaml:"regen_timeout_factor"`
	ReprocessDelayMS      int     `yaml:"reprocess_delay_ms"`
	InitialRetryAttempts  int     `yaml:"initial_retry_attempts"`
	FilesystemResumeProbe bool    `yaml:"filesystem_resume_probe"`
}

type Config struct {
	RuntimeName  string             `yaml:"runtime_name"`
	Environment  string             `yaml:"environment"`
	HTTP         HTTPConfig         `yaml:"http"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Bus          BusConfig          `yaml:"bus"`
	Store        StoreConfig        `yaml:"store"`
	Text         TextConfig         `yaml:"text"`
	Audio        AudioConfig        `yaml:"audio"`
	TTS          TTSConfig          `yaml:"tts"`
	STT          STTConfig          `yaml:"stt"`
	Verification VerificationConfig `yaml:"verification"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
}

func Default() Config {
	return Config{
		RuntimeName: "verso-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Path: "./data/verso-chunks.db",
		},
		Text: TextConfig{
			ChunkMaxChars:    1000,
			ForceAUSpelling:  true,
			EnsureTerminator: true,
		},
		Audio: AudioConfig{
			SampleRate:   44100,
			Channels:     2,
			BitDepth:     16,
			FadeMS:       50,
			Normalize:    true,
			GuardPhrases: false,
		},
		TTS: TTSConfig{
			Mode:             "mock",
			Voice:            "tara",
			Temperature:      0.7,
			Speed:            1.0,
			RetryAttempts:    3,
			CallsPerMinute:   60,
			TimeoutMS:        60000,
			TimeoutPerCharMS: 500,
			TimeoutCapMS:     300000,
			InterCallDelayMS: 1000,
		},
		STT: STTConfig{
			Mode:     "mock",
			Language: "en",
		},
		Verification: VerificationConfig{
			Enabled:     true,
			Threshold:   0.85,
			WordTimings: false,
		},
		Pipeline: PipelineConfig{
			OutputDir:             "./data/output",
			CoverageThreshold:     0.95,
			RegenAttempts:         2,
			RegenTimeoutFactor:    2,
			ReprocessDelayMS:      2000,
			InitialRetryAttempts:  3,
			FilesystemResumeProbe: true,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VERSO_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VERSO_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VERSO_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VERSO_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VERSO_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VERSO_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VERSO_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VERSO_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "VERSO_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "VERSO_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VERSO_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VERSO_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VERSO_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VERSO_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VERSO_BUS_TOKEN")
	overrideInt(&cfg.Bus.ConnectTimeout, "VERSO_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "VERSO_STORE_PATH")
	overrideBool(&cfg.Store.VacuumOnStart, "VERSO_STORE_VACUUM_ON_START")
	overrideInt(&cfg.Text.ChunkMaxChars, "VERSO_TEXT_CHUNK_MAX_CHARS")
	overrideBool(&cfg.Text.ForceAUSpelling, "VERSO_TEXT_FORCE_AU_SPELLING")
	overrideBool(&cfg.Text.EnsureTerminator, "VERSO_TEXT_ENSURE_TERMINATOR")
	overrideInt(&cfg.Audio.SampleRate, "VERSO_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "VERSO_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.BitDepth, "VERSO_AUDIO_BIT_DEPTH")
	overrideInt(&cfg.Audio.FadeMS, "VERSO_AUDIO_FADE_MS")
	overrideBool(&cfg.Audio.Normalize, "VERSO_AUDIO_NORMALIZE")
	overrideBool(&cfg.Audio.GuardPhrases, "VERSO_AUDIO_GUARD_PHRASES")
	overrideString(&cfg.TTS.Mode, "VERSO_TTS_MODE")
	overrideString(&cfg.TTS.Endpoint, "VERSO_TTS_ENDPOINT")
	overrideString(&cfg.TTS.APIKey, "VERSO_TTS_API_KEY")
	overrideString(&cfg.TTS.Command, "VERSO_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "VERSO_TTS_VOICE")
	overrideFloat(&cfg.TTS.Temperature, "VERSO_TTS_TEMPERATURE")
	overrideFloat(&cfg.TTS.Speed, "VERSO_TTS_SPEED")
	overrideInt(&cfg.TTS.RetryAttempts, "VERSO_TTS_RETRY_ATTEMPTS")
	overrideInt(&cfg.TTS.CallsPerMinute, "VERSO_TTS_CALLS_PER_MINUTE")
	overrideInt(&cfg.TTS.TimeoutMS, "VERSO_TTS_TIMEOUT_MS")
	overrideInt(&cfg.TTS.TimeoutPerCharMS, "VERSO_TTS_TIMEOUT_PER_CHAR_MS")
	overrideInt(&cfg.TTS.TimeoutCapMS, "VERSO_TTS_TIMEOUT_CAP_MS")
	overrideInt(&cfg.TTS.InterCallDelayMS, "VERSO_TTS_INTER_CALL_DELAY_MS")
	overrideString(&cfg.STT.Mode, "VERSO_STT_MODE")
	overrideString(&cfg.STT.Command, "VERSO_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "VERSO_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "VERSO_STT_LANGUAGE")
	overrideBool(&cfg.Verification.Enabled, "VERSO_VERIFICATION_ENABLED")
	overrideFloat(&cfg.Verification.Threshold, "VERSO_VERIFICATION_THRESHOLD")
	overrideBool(&cfg.Verification.WordTimings, "VERSO_VERIFICATION_WORD_TIMINGS")
	overrideString(&cfg.Pipeline.OutputDir, "VERSO_PIPELINE_OUTPUT_DIR")
	overrideFloat(&cfg.Pipeline.CoverageThreshold, "VERSO_PIPELINE_COVERAGE_THRESHOLD")
	overrideInt(&cfg.Pipeline.RegenAttempts, "VERSO_PIPELINE_REGEN_ATTEMPTS")
	overrideInt(&cfg.Pipeline.RegenTimeoutFactor, "VERSO_PIPELINE_REGEN_TIMEOUT_FACTOR")
	overrideInt(&cfg.Pipeline.ReprocessDelayMS, "VERSO_PIPELINE_REPROCESS_DELAY_MS")
	overrideInt(&cfg.Pipeline.InitialRetryAttempts, "VERSO_PIPELINE_INITIAL_RETRY_ATTEMPTS")
	overrideBool(&cfg.Pipeline.FilesystemResumeProbe, "VERSO_PIPELINE_FILESYSTEM_RESUME_PROBE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if cfg.Text.ChunkMaxChars <= 0 {
		return errors.New("text.chunk_max_chars must be positive")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	switch cfg.Audio.BitDepth {
	case 16, 24, 32:
		// ok
	default:
		return errors.New("audio.bit_depth must be one of 16|24|32")
	}
	if cfg.Audio.FadeMS < 0 {
		return errors.New("audio.fade_ms must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "mock", "http", "exec":
		// ok
	default:
		return errors.New("tts.mode must be one of mock|http|exec")
	}
	if cfg.TTS.Mode == "http" && cfg.TTS.Endpoint == "" {
		return errors.New("tts.endpoint must be set when mode=http")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.RetryAttempts <= 0 {
		return errors.New("tts.retry_attempts must be >= 1")
	}
	if cfg.TTS.CallsPerMinute <= 0 {
		return errors.New("tts.calls_per_minute must be >= 1")
	}
	if cfg.TTS.TimeoutMS <= 0 || cfg.TTS.TimeoutCapMS < cfg.TTS.TimeoutMS {
		return errors.New("tts.timeout_cap_ms must be >= tts.timeout_ms and both positive")
	}
	switch cfg.STT.Mode {
	case "mock", "exec":
		// ok
	default:
		return errors.New("stt.mode must be one of mock|exec")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	if cfg.Verification.Threshold < 0 || cfg.Verification.Threshold > 1 {
		return errors.New("verification.threshold must be between 0.0 and 1.0")
	}
	if cfg.Pipeline.OutputDir == "" {
		return errors.New("pipeline.output_dir must not be empty")
	}
	if cfg.Pipeline.CoverageThreshold < 0 || cfg.Pipeline.CoverageThreshold > 1 {
		return errors.New("pipeline.coverage_threshold must be between 0.0 and 1.0")
	}
	if cfg.Pipeline.RegenAttempts < 0 {
		return errors.New("pipeline.regen_attempts must be >= 0")
	}
	if cfg.Pipeline.InitialRetryAttempts <= 0 {
		return errors.New("pipeline.initial_retry_attempts must be >= 1")
	}
	return nil
}
