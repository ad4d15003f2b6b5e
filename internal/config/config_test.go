package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bigbag/msgframer/internal/framer"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "msgframer.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_EmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := Default()
	if cfg != want {
		t.Errorf("Load() = %+v, want %+v", cfg, want)
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
port = "/dev/ttyACM0"
baud = 9600
read_timeout = "250ms"
log_level = "debug"
field_separator = "="
item_separator = ";"
terminator = '\r\n'
max_items = 4
max_buffer_size = 512
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != "/dev/ttyACM0" {
		t.Errorf("Port = %q, want %q", cfg.Port, "/dev/ttyACM0")
	}
	if cfg.BaudRate != 9600 {
		t.Errorf("BaudRate = %d, want 9600", cfg.BaudRate)
	}
	if cfg.ReadTimeout != 250*time.Millisecond {
		t.Errorf("ReadTimeout = %s, want 250ms", cfg.ReadTimeout)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}

	want := framer.Config{
		FieldSeparator: "=",
		ItemSeparator:  ";",
		Terminator:     "\r\n",
		MaxItems:       4,
		MaxBufferSize:  512,
	}
	if cfg.Framer != want {
		t.Errorf("Framer = %+v, want %+v", cfg.Framer, want)
	}
}

func TestLoad_PartialOverride(t *testing.T) {
	cfg, err := Load(writeConfig(t, `baud = 57600`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BaudRate != 57600 {
		t.Errorf("BaudRate = %d, want 57600", cfg.BaudRate)
	}
	if cfg.Framer != framer.DefaultConfig() {
		t.Errorf("Framer = %+v, want defaults", cfg.Framer)
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	_, err := Load(writeConfig(t, `bogus = 1`))
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Errorf("Load() error = %v, want unknown key bogus", err)
	}
}

func TestLoad_AmbiguousSeparators(t *testing.T) {
	_, err := Load(writeConfig(t, `field_separator = '\n'`))
	if err == nil {
		t.Error("Load() with field separator equal to terminator error = nil")
	}
}

func TestLoad_BadDuration(t *testing.T) {
	if _, err := Load(writeConfig(t, `read_timeout = "soon"`)); err == nil {
		t.Error("Load() with bad read_timeout error = nil")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Load() of missing file error = nil")
	}
}

func TestUnescape(t *testing.T) {
	testCases := map[string]string{
		`\n`:   "\n",
		`\r\n`: "\r\n",
		`::`:   "::",
		`\t|`:  "\t|",
		`a\"b`: `a"b`,
		`\t"`:  "\t\"",
		`\\"`:  `\"`,
	}
	for in, want := range testCases {
		got, err := Unescape(in)
		if err != nil {
			t.Errorf("Unescape(%q) error = %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("Unescape(%q) = %q, want %q", in, got, want)
		}
	}

	if _, err := Unescape(`\q`); err == nil {
		t.Error("Unescape(`\\q`) error = nil")
	}
}
