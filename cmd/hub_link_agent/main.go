// Command hub_link_agent connects a device to the update channel and keeps
// it connected, applying firmware updates as the server requests them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lawik/hub_link_agent/internal/agentconfig"
	"github.com/lawik/hub_link_agent/internal/agenterr"
	"github.com/lawik/hub_link_agent/internal/auth"
	"github.com/lawik/hub_link_agent/internal/channel"
	"github.com/lawik/hub_link_agent/internal/identity"
	"github.com/lawik/hub_link_agent/internal/supervisor"
	"github.com/lawik/hub_link_agent/internal/update"
)

// version is set via ldflags at build time.
var version = "dev"

func main() {
	var (
		configPath = flag.String("config", "/etc/hub_link/config.json", "path to the agent's JSON config file")
		logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
		grace      = flag.Duration("shutdown-grace", supervisor.DefaultShutdownGrace, "how long to wait for an in-flight update before a shutdown forces disconnect")
	)
	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)
	logger.Info("hub_link_agent starting", "version", version, "config", *configPath)

	cfg, err := loadFileConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(2)
	}

	sessionCfg, err := buildSessionConfig(cfg, logger)
	if err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sup := supervisor.New(sessionCfg, *grace)
	runErr := sup.Run(ctx)

	if runErr == nil || errors.Is(runErr, context.Canceled) {
		logger.Info("shut down")
		os.Exit(0)
	}
	logger.Error("supervisor exited", "error", runErr)
	os.Exit(1)
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// fileConfig mirrors the on-disk JSON config shape. It exists
// only so json.Unmarshal has somewhere to land before conversion into
// agentconfig.Config, which knows nothing about file formats.
type fileConfig struct {
	Host                 string `json:"host"`
	SerialNumber         string `json:"serial_number"`
	SerialNumberCommand  string `json:"serial_number_command"`
	FwupDevpath          string `json:"fwup_devpath"`
	FwupTask             string `json:"fwup_task"`
	HeartbeatIntervalSec int    `json:"heartbeat_interval_secs"`
	DataDir              string `json:"data_dir"`
	DeviceAPIVersion     string `json:"device_api_version"`

	Firmware struct {
		UUID         string `json:"uuid"`
		Version      string `json:"version"`
		Platform     string `json:"platform"`
		Architecture string `json:"architecture"`
		Product      string `json:"product"`
	} `json:"firmware"`

	Auth struct {
		Type       string `json:"type"`
		CertPath   string `json:"cert_path"`
		KeyPath    string `json:"key_path"`
		CACertPath string `json:"ca_cert_path"`
		Key        string `json:"key"`
		Secret     string `json:"secret"`
	} `json:"auth"`
}

func loadFileConfig(path string) (agentconfig.Config, error) {
	const op = "main.loadFileConfig"

	data, err := os.ReadFile(path)
	if err != nil {
		return agentconfig.Config{}, agenterr.New(agenterr.ConfigInvalid, op, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return agentconfig.Config{}, agenterr.New(agenterr.ConfigInvalid, op, err)
	}

	cfg := agentconfig.Config{
		Host:                fc.Host,
		SerialNumber:        fc.SerialNumber,
		SerialNumberCommand: fc.SerialNumberCommand,
		FwupDevpath:         fc.FwupDevpath,
		FwupTask:            fc.FwupTask,
		DataDir:             fc.DataDir,
		DeviceAPIVersion:    fc.DeviceAPIVersion,
		Firmware: agentconfig.Firmware{
			UUID:         fc.Firmware.UUID,
			Version:      fc.Firmware.Version,
			Platform:     fc.Firmware.Platform,
			Architecture: fc.Firmware.Architecture,
			Product:      fc.Firmware.Product,
		},
		Auth: agentconfig.Auth{
			Type:       agentconfig.AuthType(fc.Auth.Type),
			CertPath:   fc.Auth.CertPath,
			KeyPath:    fc.Auth.KeyPath,
			CACertPath: fc.Auth.CACertPath,
			KeyID:      fc.Auth.Key,
			Secret:     fc.Auth.Secret,
		},
	}
	if fc.HeartbeatIntervalSec > 0 {
		cfg.HeartbeatInterval = time.Duration(fc.HeartbeatIntervalSec) * time.Second
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return agentconfig.Config{}, agenterr.New(agenterr.ConfigInvalid, op, err)
	}
	return cfg, nil
}

// buildSessionConfig resolves the device serial, builds the authenticator
// for cfg.Auth.Type, and wires an update.Executor backed by the real fwup
// binary into a channel.Config ready for the supervisor.
func buildSessionConfig(cfg agentconfig.Config, logger *slog.Logger) (channel.Config, error) {
	const op = "main.buildSessionConfig"

	serial, err := identity.Resolve(context.Background(), cfg.SerialNumber, cfg.SerialNumberCommand)
	if err != nil {
		return channel.Config{}, err
	}
	logger.Info("resolved device identity", "serial", serial)

	authenticator, err := buildAuthenticator(cfg.Auth)
	if err != nil {
		return channel.Config{}, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return channel.Config{}, agenterr.New(agenterr.ConfigInvalid, op, fmt.Errorf("creating data_dir: %w", err))
	}

	executor := update.NewExecutor(update.Config{
		Devpath: cfg.FwupDevpath,
		Task:    cfg.FwupTask,
		DataDir: cfg.DataDir,
	}, update.RealWriter{})

	return channel.Config{
		Host:              cfg.Host,
		Serial:            serial,
		Firmware:          cfg.Firmware,
		DeviceAPIVersion:  cfg.DeviceAPIVersion,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Authenticator:     authenticator,
		UpdateExecutor:    executor,
		Logger:            logger,
	}, nil
}

func buildAuthenticator(a agentconfig.Auth) (auth.Authenticator, error) {
	switch a.Type {
	case agentconfig.AuthMtls:
		return auth.NewMtls(a.CertPath, a.KeyPath, a.CACertPath)
	case agentconfig.AuthSharedSecret:
		return auth.NewSharedSecret(a.KeyID, a.Secret), nil
	default:
		return nil, agenterr.New(agenterr.ConfigInvalid, "main.buildAuthenticator", fmt.Errorf("unknown auth type %q", a.Type))
	}
}
