package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/bigbag/msgframer/internal/framer"
)

// Default link settings.
const (
	DefaultBaudRate    = 115200
	DefaultReadTimeout = 100 * time.Millisecond
	DefaultLogLevel    = "info"
)

// Config holds everything the CLI needs to talk to a device.
type Config struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration
	LogLevel    string
	Framer      framer.Config
}

type fileConfig struct {
	Port           string `toml:"port"`
	Baud           int    `toml:"baud"`
	ReadTimeout    string `toml:"read_timeout"`
	LogLevel       string `toml:"log_level"`
	FieldSeparator string `toml:"field_separator"`
	ItemSeparator  string `toml:"item_separator"`
	Terminator     string `toml:"terminator"`
	MaxItems       int    `toml:"max_items"`
	MaxBufferSize  int    `toml:"max_buffer_size"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BaudRate:    DefaultBaudRate,
		ReadTimeout: DefaultReadTimeout,
		LogLevel:    DefaultLogLevel,
		Framer:      framer.DefaultConfig(),
	}
}

// Load reads a TOML file on top of Default. Only keys present in the
// file override defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("port") {
		cfg.Port = strings.TrimSpace(raw.Port)
	}
	if meta.IsDefined("baud") {
		cfg.BaudRate = raw.Baud
	}
	if meta.IsDefined("read_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReadTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse read_timeout: %w", err)
		}
		cfg.ReadTimeout = d
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	separators := []struct {
		key string
		src string
		dst *string
	}{
		{"field_separator", raw.FieldSeparator, &cfg.Framer.FieldSeparator},
		{"item_separator", raw.ItemSeparator, &cfg.Framer.ItemSeparator},
		{"terminator", raw.Terminator, &cfg.Framer.Terminator},
	}
	for _, sep := range separators {
		if !meta.IsDefined(sep.key) {
			continue
		}
		v, err := Unescape(sep.src)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", sep.key, err)
		}
		*sep.dst = v
	}
	if meta.IsDefined("max_items") {
		cfg.Framer.MaxItems = raw.MaxItems
	}
	if meta.IsDefined("max_buffer_size") {
		cfg.Framer.MaxBufferSize = raw.MaxBufferSize
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks link settings and the wire format.
func (c Config) Validate() error {
	if c.BaudRate <= 0 {
		return fmt.Errorf("baud rate must be positive, got %d", c.BaudRate)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive, got %s", c.ReadTimeout)
	}
	if err := c.Framer.Validate(); err != nil {
		return fmt.Errorf("framer: %w", err)
	}
	return nil
}

// Unescape turns a separator written with Go escapes (`\r\n`) into its
// literal bytes. Plain text is returned unchanged. A quote may be written
// bare or as `\"`.
func Unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	out, err := strconv.Unquote(`"` + quoteBare(s) + `"`)
	if err != nil {
		return "", fmt.Errorf("invalid escape in %q: %w", s, err)
	}
	return out, nil
}

// quoteBare escapes double quotes that are not already escaped.
func quoteBare(s string) string {
	var sb strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case escaped:
			escaped = false
		case b == '\\':
			escaped = true
		case b == '"':
			sb.WriteByte('\\')
		}
		sb.WriteByte(b)
	}
	return sb.String()
}
