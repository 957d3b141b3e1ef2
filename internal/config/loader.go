package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// KnownVoices lists the prebuilt Gemini Live voice names. Used by [Validate]
// to warn about likely typos without rejecting new voices the API may add.
var KnownVoices = []string{"Aoede", "Charon", "Fenrir", "Kore", "Puck"}

// Defaults for the receptionist persona, applied when the section is left
// empty. These match the demo site the store ships with.
const (
	defaultClinicName       = "Nexus Clinical Trials"
	defaultBotName          = "Nexus"
	defaultCustomGreeting   = "Thank you for calling Nexus Clinical. How can I help you today?"
	defaultEmergencyContact = "911"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills the receptionist persona defaults for fields left
// empty. Lifecycle and audio defaults live with the components that own
// them; only the persona has no sensible zero values.
func ApplyDefaults(cfg *Config) {
	if cfg.Receptionist.ClinicName == "" {
		cfg.Receptionist.ClinicName = defaultClinicName
	}
	if cfg.Receptionist.BotName == "" {
		cfg.Receptionist.BotName = defaultBotName
	}
	if cfg.Receptionist.Tone == "" {
		cfg.Receptionist.Tone = ToneProfessional
	}
	if cfg.Receptionist.CustomGreeting == "" {
		cfg.Receptionist.CustomGreeting = defaultCustomGreeting
	}
	if cfg.Receptionist.EmergencyContact == "" {
		cfg.Receptionist.EmergencyContact = defaultEmergencyContact
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Gemini
	validateVoice("gemini.staff_voice", cfg.Gemini.StaffVoice)
	validateVoice("gemini.patient_voice", cfg.Gemini.PatientVoice)
	if cfg.Gemini.ResolveAPIKey() == "" {
		slog.Warn("no Gemini API key configured; voice sessions will fail to connect",
			"hint", "set gemini.api_key or the GEMINI_API_KEY environment variable",
		)
	}

	// Session
	if cfg.Session.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.connect_timeout %s must not be negative", cfg.Session.ConnectTimeout))
	}

	// Audio
	if cfg.Audio.CaptureRate < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_rate %d must not be negative", cfg.Audio.CaptureRate))
	}
	if cfg.Audio.PlaybackRate < 0 {
		errs = append(errs, fmt.Errorf("audio.playback_rate %d must not be negative", cfg.Audio.PlaybackRate))
	}
	if cfg.Audio.FrameSamples < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_samples %d must not be negative", cfg.Audio.FrameSamples))
	}
	if cfg.Audio.CaptureRate != 0 && cfg.Audio.CaptureRate != 16000 {
		slog.Warn("audio.capture_rate differs from the 16 kHz the model expects",
			"capture_rate", cfg.Audio.CaptureRate,
		)
	}
	if cfg.Audio.PlaybackRate != 0 && cfg.Audio.PlaybackRate != 24000 {
		slog.Warn("audio.playback_rate differs from the 24 kHz the model emits",
			"playback_rate", cfg.Audio.PlaybackRate,
		)
	}

	// Receptionist
	if cfg.Receptionist.Tone != "" && !cfg.Receptionist.Tone.IsValid() {
		errs = append(errs, fmt.Errorf("receptionist.tone %q is invalid; valid values: Professional, Empathetic, Energetic, Strict", cfg.Receptionist.Tone))
	}

	// Database
	if cfg.Database.PostgresDSN == "" {
		slog.Warn("database.postgres_dsn is empty; running on the seeded in-memory store")
	}

	return errors.Join(errs...)
}

// validateVoice logs a warning if name is non-empty and not a known prebuilt
// voice.
func validateVoice(field, name string) {
	if name == "" || slices.Contains(KnownVoices, name) {
		return
	}
	slog.Warn("unknown voice name, may be a typo or a newly added voice",
		"field", field,
		"name", name,
		"known", KnownVoices,
	)
}
