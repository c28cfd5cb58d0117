// Package config loads the webrtcsink sender configuration from flags and
// environment variables and constructs the process logger.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarWHIPEndpoint      = "WEBRTCSINK_WHIP_ENDPOINT"
	envVarSignallingAddress = "WEBRTCSINK_SIGNALLING_ADDRESS"
	envVarCAFile            = "WEBRTCSINK_CA_FILE"
	envVarGatherTimeout     = "WEBRTCSINK_GATHER_TIMEOUT"
	envVarExchangeTimeout   = "WEBRTCSINK_EXCHANGE_TIMEOUT"
	envVarMailboxCapacity   = "WEBRTCSINK_MAILBOX_CAPACITY"
	envVarMetricsListenAddr = "WEBRTCSINK_METRICS_LISTEN_ADDR"
	envVarLogFormat         = "WEBRTCSINK_LOG_FORMAT"
	envVarLogLevel          = "WEBRTCSINK_LOG_LEVEL"
)

const (
	DefaultWHIPEndpoint    = "http://127.0.0.1:7080/whip/endpoint"
	DefaultGatherTimeout   = 500 * time.Millisecond
	DefaultExchangeTimeout = 10 * time.Second
	DefaultMailboxCapacity = 1000
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	// WHIPEndpoint is the http(s) URL offers are POSTed to.
	WHIPEndpoint string
	// SignallingAddress is an optional ws(s) URL for the inbound
	// signalling channel (e.g. ws://127.0.0.1:8443). Empty disables it.
	SignallingAddress string
	// CAFile optionally adds a PEM trust root for TLS connections.
	CAFile string

	GatherTimeout   time.Duration
	ExchangeTimeout time.Duration
	MailboxCapacity int

	// MetricsListenAddr serves Prometheus metrics when non-empty.
	MetricsListenAddr string

	LogFormat LogFormat
	LogLevel  slog.Level
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	whipEndpoint := envOrDefault(lookup, envVarWHIPEndpoint, DefaultWHIPEndpoint)
	signallingAddress := envOrDefault(lookup, envVarSignallingAddress, "")
	caFile := envOrDefault(lookup, envVarCAFile, "")
	metricsListenAddr := envOrDefault(lookup, envVarMetricsListenAddr, "")
	logFormatStr := envOrDefault(lookup, envVarLogFormat, string(LogFormatText))
	logLevelStr := envOrDefault(lookup, envVarLogLevel, "info")

	gatherTimeout := DefaultGatherTimeout
	if raw, ok := lookup(envVarGatherTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarGatherTimeout, raw, err)
		}
		gatherTimeout = d
	}
	exchangeTimeout := DefaultExchangeTimeout
	if raw, ok := lookup(envVarExchangeTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarExchangeTimeout, raw, err)
		}
		exchangeTimeout = d
	}
	mailboxCapacity := DefaultMailboxCapacity
	if raw, ok := lookup(envVarMailboxCapacity); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMailboxCapacity, raw, err)
		}
		mailboxCapacity = n
	}

	fs := flag.NewFlagSet("webrtcsink-whip", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	fs.StringVar(&whipEndpoint, "whip-endpoint", whipEndpoint, "WHIP endpoint URL the composed offer is POSTed to (env "+envVarWHIPEndpoint+")")
	fs.StringVar(&signallingAddress, "signalling-address", signallingAddress, "Optional ws(s) URL of a signalling server for the inbound channel, e.g. ws://127.0.0.1:8443 (env "+envVarSignallingAddress+")")
	fs.StringVar(&caFile, "cafile", caFile, "Path to a PEM certificate file to add to the set of TLS trust roots (env "+envVarCAFile+")")
	fs.DurationVar(&gatherTimeout, "gather-timeout", gatherTimeout, "Fallback delay before ICE gathering is declared done (env "+envVarGatherTimeout+")")
	fs.DurationVar(&exchangeTimeout, "exchange-timeout", exchangeTimeout, "Max duration of one WHIP HTTP exchange (env "+envVarExchangeTimeout+")")
	fs.IntVar(&mailboxCapacity, "mailbox-capacity", mailboxCapacity, "Bound on queued signalling messages (env "+envVarMailboxCapacity+")")
	fs.StringVar(&metricsListenAddr, "metrics-listen-addr", metricsListenAddr, "Serve Prometheus metrics on this address; empty disables (env "+envVarMetricsListenAddr+")")
	fs.StringVar(&logFormatStr, "log-format", logFormatStr, "Log format: text or json (env "+envVarLogFormat+")")
	fs.StringVar(&logLevelStr, "log-level", logLevelStr, "Log level: debug, info, warn, error (env "+envVarLogLevel+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if err := validateHTTPURL(whipEndpoint); err != nil {
		return Config{}, fmt.Errorf("invalid %s/--whip-endpoint: %w", envVarWHIPEndpoint, err)
	}
	if signallingAddress != "" {
		if err := validateWSURL(signallingAddress); err != nil {
			return Config{}, fmt.Errorf("invalid %s/--signalling-address: %w", envVarSignallingAddress, err)
		}
	}
	if gatherTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--gather-timeout must be > 0", envVarGatherTimeout)
	}
	if exchangeTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--exchange-timeout must be > 0", envVarExchangeTimeout)
	}
	if mailboxCapacity <= 0 {
		return Config{}, fmt.Errorf("%s/--mailbox-capacity must be > 0", envVarMailboxCapacity)
	}

	return Config{
		WHIPEndpoint:      whipEndpoint,
		SignallingAddress: signallingAddress,
		CAFile:            caFile,
		GatherTimeout:     gatherTimeout,
		ExchangeTimeout:   exchangeTimeout,
		MailboxCapacity:   mailboxCapacity,
		MetricsListenAddr: metricsListenAddr,
		LogFormat:         logFormat,
		LogLevel:          level,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q, expected http or https", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("scheme %q, expected ws or wss", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}
