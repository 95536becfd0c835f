package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	MIDIPort string `yaml:"midi_port"`
	HTTPPort int    `yaml:"http_port"`
	Debug    bool   `yaml:"debug"`
	WebDir   string `yaml:"web_dir"`

	Track  TrackConfig  `yaml:"track"`
	Timing TimingConfig `yaml:"timing"`
}

// TrackConfig names the track discovery looks for.
type TrackConfig struct {
	Name     string   `yaml:"name"`
	Aliases  []string `yaml:"aliases"`
	MaxBanks int      `yaml:"max_banks"`
}

// TimingConfig exposes the engine's timing knobs in milliseconds. Zero
// values fall back to the engine defaults.
type TimingConfig struct {
	SilenceWindowMS  int `yaml:"silence_window_ms"`
	DebounceWindowMS int `yaml:"debounce_window_ms"`
	ResetSilenceMS   int `yaml:"reset_silence_ms"`
	LCDSettleMS      int `yaml:"lcd_settle_ms"`
	StepDelayMS      int `yaml:"step_delay_ms"`
	RequestDelayMS   int `yaml:"request_delay_ms"`
	HandshakeDelayMS int `yaml:"handshake_delay_ms"`
}

func (t TimingConfig) SilenceWindow() time.Duration  { return ms(t.SilenceWindowMS) }
func (t TimingConfig) DebounceWindow() time.Duration { return ms(t.DebounceWindowMS) }
func (t TimingConfig) ResetSilence() time.Duration   { return ms(t.ResetSilenceMS) }
func (t TimingConfig) LCDSettle() time.Duration      { return ms(t.LCDSettleMS) }
func (t TimingConfig) StepDelay() time.Duration      { return ms(t.StepDelayMS) }
func (t TimingConfig) RequestDelay() time.Duration   { return ms(t.RequestDelayMS) }
func (t TimingConfig) HandshakeDelay() time.Duration { return ms(t.HandshakeDelayMS) }

func ms(v int) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v) * time.Millisecond
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		MIDIPort: "IAC Driver fader-mcu",
		HTTPPort: 3001,
	}
}

// configDir returns the platform-appropriate config directory.
func configDir() (string, error) {
	configHome, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configHome, "mcu-bridge"), nil
}

// searchPaths lists the locations Load probes when no explicit path is given.
func searchPaths() []string {
	paths := []string{"mcu-bridge.yaml"}
	if dir, err := configDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "config.yaml"))
	}
	return paths
}

// Load reads the config file at path, or probes the default locations when
// path is empty. A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	for _, candidate := range searchPaths() {
		err := loadFile(candidate, cfg)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Save writes the config to the default location.
func (c *Config) Save() error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644)
}

// ApplyEnv overlays the environment variables the original deployment used:
// MIDI_PORT, PORT and DEBUG.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("MIDI_PORT"); v != "" {
		c.MIDIPort = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.HTTPPort = port
		}
	}
	if v := os.Getenv("DEBUG"); v != "" {
		c.Debug = strings.EqualFold(v, "true") || v == "1"
	}
}
