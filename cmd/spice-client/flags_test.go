package main

import (
	"testing"

	"github.com/alxayo/go-spice/internal/spice/session"
)

func TestParseFlagsDefaults(t *testing.T) {
	cfg, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.host != "127.0.0.1" || cfg.port != 5900 {
		t.Fatalf("unexpected defaults: host=%q port=%d", cfg.host, cfg.port)
	}
	if !cfg.enableInputs || !cfg.enableDisplay || !cfg.enableClip || !cfg.autoConnect {
		t.Fatalf("expected inputs/display/clipboard/auto-connect enabled by default: %+v", cfg)
	}
	if cfg.enablePlayback || cfg.enableRecord {
		t.Fatalf("expected playback/record disabled by default: %+v", cfg)
	}
	if len(cfg.explicit) != 0 {
		t.Fatalf("expected no explicit flags when none were passed, got %v", cfg.explicit)
	}
}

func TestParseFlagsTracksExplicitFlags(t *testing.T) {
	cfg, err := parseFlags([]string{"-port", "5901", "-config", "/tmp/x.yaml"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.port != 5901 || cfg.configPath != "/tmp/x.yaml" {
		t.Fatalf("unexpected flag values: %+v", cfg)
	}
	if !cfg.explicit["port"] || !cfg.explicit["config"] {
		t.Fatalf("expected port and config marked explicit, got %v", cfg.explicit)
	}
	if cfg.explicit["host"] {
		t.Fatalf("host was not passed on the command line, should not be explicit")
	}
}

func TestParseFlagsRejectsBadLogLevel(t *testing.T) {
	if _, err := parseFlags([]string{"-log-level", "verbose"}); err == nil {
		t.Fatalf("expected an error for an invalid log level")
	}
}

func TestParseFlagsRejectsOutOfRangePort(t *testing.T) {
	if _, err := parseFlags([]string{"-port", "70000"}); err == nil {
		t.Fatalf("expected an error for an out-of-range port")
	}
}

func TestParseFlagsAllowsZeroPortForUnixSocket(t *testing.T) {
	cfg, err := parseFlags([]string{"-port", "0", "-host", "/tmp/spice.sock"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.port != 0 || cfg.host != "/tmp/spice.sock" {
		t.Fatalf("unexpected unix socket config: %+v", cfg)
	}
}

func TestParseFlagsRejectsNegativePollTimeout(t *testing.T) {
	if _, err := parseFlags([]string{"-poll-timeout-ms", "-1"}); err == nil {
		t.Fatalf("expected an error for a negative poll timeout")
	}
}

func TestDialAddrFormatsTCPAndUnix(t *testing.T) {
	if got := dialAddr("127.0.0.1", 5900); got != "127.0.0.1:5900" {
		t.Fatalf("dialAddr TCP = %q", got)
	}
	if got := dialAddr("/tmp/spice.sock", 0); got != "/tmp/spice.sock" {
		t.Fatalf("dialAddr unix = %q", got)
	}
}

func TestApplyExplicitFlagOverrides(t *testing.T) {
	cfg := &cliConfig{
		host:        "cli-host",
		port:        1234,
		enableClip:  false,
		autoConnect: false,
		explicit:    map[string]bool{"host": true, "clipboard": true, "auto-connect": true},
	}
	sessionCfg := session.Config{Host: "file-host", Port: 4321}
	sessionCfg.Clipboard.Enable = true
	sessionCfg.Inputs.AutoConnect = true

	applyExplicitFlagOverrides(cfg, &sessionCfg)

	if sessionCfg.Host != "cli-host" {
		t.Fatalf("expected explicit host flag to win, got %q", sessionCfg.Host)
	}
	if sessionCfg.Port != 4321 {
		t.Fatalf("expected unset port flag to leave the file value alone, got %d", sessionCfg.Port)
	}
	if sessionCfg.Clipboard.Enable {
		t.Fatalf("expected explicit clipboard=false flag to override the file value")
	}
	if sessionCfg.Inputs.AutoConnect {
		t.Fatalf("expected explicit auto-connect=false flag to override the file value")
	}
}
