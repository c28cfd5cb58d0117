package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(noEnv, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WHIPEndpoint != DefaultWHIPEndpoint {
		t.Fatalf("WHIPEndpoint=%q, want %q", cfg.WHIPEndpoint, DefaultWHIPEndpoint)
	}
	if cfg.SignallingAddress != "" {
		t.Fatalf("SignallingAddress=%q, want empty", cfg.SignallingAddress)
	}
	if cfg.GatherTimeout != DefaultGatherTimeout {
		t.Fatalf("GatherTimeout=%v, want %v", cfg.GatherTimeout, DefaultGatherTimeout)
	}
	if cfg.MailboxCapacity != DefaultMailboxCapacity {
		t.Fatalf("MailboxCapacity=%d, want %d", cfg.MailboxCapacity, DefaultMailboxCapacity)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("LogFormat=%q, want text", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel=%v, want info", cfg.LogLevel)
	}
}

func TestLoad_Flags(t *testing.T) {
	cfg, err := load(noEnv, []string{
		"-whip-endpoint", "https://whip.example.com/room",
		"-signalling-address", "wss://sig.example.com/ws",
		"-cafile", "/tmp/ca.pem",
		"-gather-timeout", "250ms",
		"-exchange-timeout", "3s",
		"-mailbox-capacity", "10",
		"-log-format", "json",
		"-log-level", "debug",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WHIPEndpoint != "https://whip.example.com/room" {
		t.Fatalf("WHIPEndpoint=%q", cfg.WHIPEndpoint)
	}
	if cfg.SignallingAddress != "wss://sig.example.com/ws" {
		t.Fatalf("SignallingAddress=%q", cfg.SignallingAddress)
	}
	if cfg.CAFile != "/tmp/ca.pem" {
		t.Fatalf("CAFile=%q", cfg.CAFile)
	}
	if cfg.GatherTimeout != 250*time.Millisecond {
		t.Fatalf("GatherTimeout=%v", cfg.GatherTimeout)
	}
	if cfg.ExchangeTimeout != 3*time.Second {
		t.Fatalf("ExchangeTimeout=%v", cfg.ExchangeTimeout)
	}
	if cfg.MailboxCapacity != 10 {
		t.Fatalf("MailboxCapacity=%d", cfg.MailboxCapacity)
	}
	if cfg.LogFormat != LogFormatJSON || cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("LogFormat=%q LogLevel=%v", cfg.LogFormat, cfg.LogLevel)
	}
}

func TestLoad_EnvDefaultsAndFlagOverride(t *testing.T) {
	env := envMap(map[string]string{
		envVarWHIPEndpoint:    "http://env.example.com/whip",
		envVarGatherTimeout:   "1s",
		envVarMailboxCapacity: "5",
	})

	cfg, err := load(env, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WHIPEndpoint != "http://env.example.com/whip" {
		t.Fatalf("WHIPEndpoint=%q", cfg.WHIPEndpoint)
	}
	if cfg.GatherTimeout != time.Second {
		t.Fatalf("GatherTimeout=%v", cfg.GatherTimeout)
	}
	if cfg.MailboxCapacity != 5 {
		t.Fatalf("MailboxCapacity=%d", cfg.MailboxCapacity)
	}

	// Flags win over env.
	cfg, err = load(env, []string{"-whip-endpoint", "http://flag.example.com/whip"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WHIPEndpoint != "http://flag.example.com/whip" {
		t.Fatalf("WHIPEndpoint=%q, want flag value", cfg.WHIPEndpoint)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"ws scheme for whip endpoint", []string{"-whip-endpoint", "ws://127.0.0.1:8443"}, "whip-endpoint"},
		{"http scheme for signalling address", []string{"-signalling-address", "http://127.0.0.1:8443"}, "signalling-address"},
		{"zero gather timeout", []string{"-gather-timeout", "0s"}, "gather-timeout"},
		{"negative mailbox capacity", []string{"-mailbox-capacity", "-1"}, "mailbox-capacity"},
		{"bad log level", []string{"-log-level", "loud"}, "log level"},
		{"bad log format", []string{"-log-format", "xml"}, "log format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(noEnv, tc.args)
			if err == nil {
				t.Fatalf("expected error for %v", tc.args)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestNewLogger_Formats(t *testing.T) {
	for _, format := range []LogFormat{LogFormatText, LogFormatJSON} {
		logger, err := NewLogger(Config{LogFormat: format})
		if err != nil {
			t.Fatalf("NewLogger(%q): %v", format, err)
		}
		if logger == nil {
			t.Fatalf("NewLogger(%q) returned nil logger", format)
		}
	}

	if _, err := NewLogger(Config{LogFormat: "xml"}); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}
