package config

import (
	"log/slog"
	"strings"
	"testing"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(func(string) (string, bool) { return "", false }, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want debug", cfg.LogLevel)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("listenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.MaxSignalingMessageBytes != DefaultMaxSignalingMessageBytes {
		t.Fatalf("MaxSignalingMessageBytes=%d, want %d", cfg.MaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	}
	if cfg.MaxSignalingMessagesPerSecond != DefaultMaxSignalingMessagesPerSecond {
		t.Fatalf("MaxSignalingMessagesPerSecond=%d, want %d", cfg.MaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	}
	if cfg.PeerSendQueueLength != DefaultPeerSendQueueLength {
		t.Fatalf("PeerSendQueueLength=%d, want %d", cfg.PeerSendQueueLength, DefaultPeerSendQueueLength)
	}
	if cfg.SignalingWSIdleTimeout != DefaultSignalingWSIdleTimeout {
		t.Fatalf("SignalingWSIdleTimeout=%v, want %v", cfg.SignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	}
	if len(cfg.ICEServers) != 0 {
		t.Fatalf("expected no ICE servers by default, got %v", cfg.ICEServers)
	}
	if cfg.ICEConfigError() != nil {
		t.Fatalf("unexpected ICE config error: %v", cfg.ICEConfigError())
	}
}

func TestProdModeSwitchesLogDefaults(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarMode: "prod",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want info", cfg.LogLevel)
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarListenAddr:                    "127.0.0.1:9999",
		envVarMaxSignalingMessagesPerSecond: "10",
	}), []string{
		"-listen-addr", "0.0.0.0:8443",
		"-max-signaling-messages-per-second", "25",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:8443" {
		t.Fatalf("listenAddr=%q, want flag value", cfg.ListenAddr)
	}
	if cfg.MaxSignalingMessagesPerSecond != 25 {
		t.Fatalf("MaxSignalingMessagesPerSecond=%d, want 25", cfg.MaxSignalingMessagesPerSecond)
	}
}

func TestAllowedOriginsParsing(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarAllowedOrigins: "https://app.example.com, *,",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"https://app.example.com", "*"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins=%v, want %v", cfg.AllowedOrigins, want)
	}
	for i := range want {
		if cfg.AllowedOrigins[i] != want[i] {
			t.Fatalf("AllowedOrigins=%v, want %v", cfg.AllowedOrigins, want)
		}
	}

	if _, err := load(lookupMap(map[string]string{
		envVarAllowedOrigins: "not-an-origin",
	}), nil); err == nil {
		t.Fatalf("expected error for scheme-less origin")
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{"bad listen addr", nil, []string{"-listen-addr", "no-port"}},
		{"bad mode", nil, []string{"-mode", "staging"}},
		{"bad log level", nil, []string{"-log-level", "verbose"}},
		{"zero message bytes", map[string]string{envVarMaxSignalingMessageBytes: "0"}, nil},
		{"negative rate", map[string]string{envVarMaxSignalingMessagesPerSecond: "-1"}, nil},
		{"ping not before idle", nil, []string{"-signaling-ws-ping-interval", "90s"}},
		{"trailing args", nil, []string{"surprise"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := load(lookupMap(tt.env), tt.args); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestInvalidDurationEnv(t *testing.T) {
	_, err := load(lookupMap(map[string]string{
		envVarShutdownTimeout: "soon",
	}), nil)
	if err == nil || !strings.Contains(err.Error(), envVarShutdownTimeout) {
		t.Fatalf("expected %s error, got %v", envVarShutdownTimeout, err)
	}
}

func TestICEConfigErrorIsDeferred(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envTurnURLs: "turn:turn.example.com:3478",
		// Username/credential deliberately missing.
	}), nil)
	if err != nil {
		t.Fatalf("load should not fail on ICE misconfiguration: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("expected deferred ICE config error")
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []LogFormat{LogFormatText, LogFormatJSON} {
		logger, err := NewLogger(Config{LogFormat: format, LogLevel: slog.LevelInfo})
		if err != nil {
			t.Fatalf("NewLogger(%s): %v", format, err)
		}
		if logger == nil {
			t.Fatalf("NewLogger(%s) returned nil", format)
		}
	}
	if _, err := NewLogger(Config{LogFormat: "xml"}); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}
