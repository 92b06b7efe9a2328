package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/alxayo/go-spice/internal/spice/session"
)

// version is injected at build time with -ldflags "-X main.version=...". Defaults to dev.
var version = "dev"

// cliConfig holds user supplied flag values prior to translation into
// session.Config so main.go can validate and map.
type cliConfig struct {
	host        string
	port        int
	password    string
	logLevel    string
	showVersion bool
	configPath  string

	enableInputs   bool
	enablePlayback bool
	enableRecord   bool
	enableDisplay  bool
	enableClip     bool
	autoConnect    bool

	pollTimeoutMs int

	explicit map[string]bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("spice-client", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}

	fs.StringVar(&cfg.host, "host", "127.0.0.1", "Server host, or a unix socket path when -port=0")
	fs.IntVar(&cfg.port, "port", 5900, "MAIN channel TCP port; 0 selects AF_UNIX against -host")
	fs.StringVar(&cfg.password, "password", "", "SPICE ticket password")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")
	fs.StringVar(&cfg.configPath, "config", "", "Path to a YAML session config; flags override its values when both are set")

	fs.BoolVar(&cfg.enableInputs, "inputs", true, "Enable the INPUTS channel")
	fs.BoolVar(&cfg.enablePlayback, "playback", false, "Enable the PLAYBACK channel")
	fs.BoolVar(&cfg.enableRecord, "record", false, "Enable the RECORD channel")
	fs.BoolVar(&cfg.enableDisplay, "display", true, "Enable the DISPLAY channel")
	fs.BoolVar(&cfg.enableClip, "clipboard", true, "Enable VD_AGENT clipboard tunnelling over MAIN")
	fs.BoolVar(&cfg.autoConnect, "auto-connect", true, "Auto-connect enabled channels as they appear in the channels list")

	fs.IntVar(&cfg.pollTimeoutMs, "poll-timeout-ms", 1000, "epoll_wait timeout per Process iteration, in milliseconds")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.explicit = map[string]bool{}
	fs.Visit(func(f *flag.Flag) { cfg.explicit[f.Name] = true })

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}

	if cfg.port != 0 {
		if cfg.port < 1 || cfg.port > 65535 {
			return nil, errors.New("port must be between 1 and 65535, or 0 for a unix socket")
		}
		if cfg.host == "" {
			return nil, errors.New("host must not be empty")
		}
	} else if cfg.host == "" {
		return nil, errors.New("host must name a unix socket path when port is 0")
	}

	if cfg.pollTimeoutMs < 0 {
		return nil, errors.New("poll-timeout-ms must not be negative")
	}

	return cfg, nil
}

// dialAddr renders a host/port pair as a human-readable address string for
// logging; it does not validate reachability.
func dialAddr(host string, port int) string {
	if port == 0 {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// applyExplicitFlagOverrides re-applies flags the user typed on the command
// line on top of a config file's values, so "-config base.yaml -port 5901"
// behaves as expected instead of the file silently winning.
func applyExplicitFlagOverrides(cfg *cliConfig, sessionCfg *session.Config) {
	if cfg.explicit["host"] {
		sessionCfg.Host = cfg.host
	}
	if cfg.explicit["port"] {
		sessionCfg.Port = cfg.port
	}
	if cfg.explicit["password"] {
		sessionCfg.Password = cfg.password
	}
	if cfg.explicit["inputs"] {
		sessionCfg.Inputs.Enable = cfg.enableInputs
	}
	if cfg.explicit["playback"] {
		sessionCfg.Playback.Enable = cfg.enablePlayback
	}
	if cfg.explicit["record"] {
		sessionCfg.Record.Enable = cfg.enableRecord
	}
	if cfg.explicit["display"] {
		sessionCfg.Display.Enable = cfg.enableDisplay
	}
	if cfg.explicit["clipboard"] {
		sessionCfg.Clipboard.Enable = cfg.enableClip
	}
	if cfg.explicit["auto-connect"] {
		sessionCfg.Inputs.AutoConnect = cfg.autoConnect
		sessionCfg.Playback.AutoConnect = cfg.autoConnect
		sessionCfg.Record.AutoConnect = cfg.autoConnect
		sessionCfg.Display.AutoConnect = cfg.autoConnect
	}
}
