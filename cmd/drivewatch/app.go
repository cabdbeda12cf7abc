package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/metabinary-ltd/drivewatch/internal/collectors"
	"github.com/metabinary-ltd/drivewatch/internal/config"
	"github.com/metabinary-ltd/drivewatch/internal/logging"
	"github.com/metabinary-ltd/drivewatch/internal/startup"
	"github.com/metabinary-ltd/drivewatch/internal/truenas"
	"github.com/metabinary-ltd/drivewatch/internal/types"
)

// app holds the components shared by every subcommand. Nothing in it changes
// after construction.
type app struct {
	cfg     config.Config
	caps    startup.Capabilities
	logger  zerolog.Logger
	devices *collectors.DeviceCollector
	smart   *collectors.SmartCollector
	alerts  *truenas.Client
}

func newApp(path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	caps := startup.Detect(*cfg, nil)

	runner := collectors.ExecRunner{Timeout: cfg.Tools.Timeout}
	a := &app{
		cfg:     *cfg,
		caps:    caps,
		logger:  logger,
		devices: collectors.NewDeviceCollector(*cfg, caps, runner, logger),
		smart:   collectors.NewSmartCollector(*cfg, caps, runner, logger),
	}

	client, err := truenas.New(*cfg, logger)
	switch {
	case err == nil:
		a.alerts = client
	case errors.Is(err, types.ErrDisabled):
		logger.Debug().Msg("truenas alert feed disabled")
	default:
		return nil, fmt.Errorf("truenas client: %w", err)
	}
	return a, nil
}

func (a *app) logCapabilities() {
	a.logger.Info().
		Str("os", a.caps.GOOS).
		Bool("root", a.caps.Root).
		Bool("lsblk", a.caps.LsblkFound).
		Bool("smartctl", a.caps.SmartctlFound).
		Bool("truenas", a.alerts != nil).
		Str("platform", a.caps.Platform).
		Msg("capabilities detected")
	if !a.caps.Supported() {
		a.logger.Warn().Msg("block device inspection is not supported on this platform")
	} else if !a.caps.SmartEnabled() {
		a.logger.Warn().Msg("SMART inspection needs root and smartctl on PATH")
	}
}
