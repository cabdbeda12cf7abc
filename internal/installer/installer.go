package installer

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/metabinary-ltd/drivewatch/internal/config"
)

const (
	UnitName   = "drivewatch.service"
	binaryPath = "/usr/bin/drivewatch"
	configDir  = "/etc/drivewatch"
	configFile = "config.yml"
	unitDir    = "/etc/systemd/system"
)

//go:embed drivewatch.service
var unitFile []byte

// Systemctl runs one systemctl invocation and returns its combined output.
type Systemctl func(ctx context.Context, args ...string) ([]byte, error)

func execSystemctl(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "systemctl", args...).CombinedOutput()
}

type Installer struct {
	GOOS       string
	Root       string // prefix for every target path, "" for the real filesystem
	Executable string
	Systemctl  Systemctl
	Logger     zerolog.Logger
}

func New(goos string, logger zerolog.Logger) *Installer {
	return &Installer{
		GOOS:      goos,
		Systemctl: execSystemctl,
		Logger:    logger,
	}
}

// Install places the binary, a default config and the unit file, then starts
// and enables the service. An existing config file is left untouched.
func (i *Installer) Install(ctx context.Context) error {
	if i.GOOS == "windows" {
		i.Logger.Warn().Msg("installing is not supported on windows")
		return nil
	}

	// a stopped or missing unit is fine here
	if out, err := i.Systemctl(ctx, "stop", UnitName); err != nil {
		i.Logger.Debug().Err(err).Str("output", string(out)).Msg("systemctl stop")
	}

	exe := i.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
	}
	exe, err := filepath.EvalSymlinks(exe)
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	target := i.path(binaryPath)
	if exe != target {
		if err := copyFile(exe, target, 0o755); err != nil {
			return fmt.Errorf("install binary: %w", err)
		}
		i.Logger.Info().Str("path", target).Msg("installed binary")
	}

	if err := os.MkdirAll(i.path(configDir), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := i.writeDefaultConfig(); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}

	unitPath := i.path(filepath.Join(unitDir, UnitName))
	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return fmt.Errorf("create unit dir: %w", err)
	}
	if err := os.WriteFile(unitPath, unitFile, 0o644); err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}

	for _, args := range [][]string{
		{"daemon-reload"},
		{"start", UnitName},
		{"enable", UnitName},
	} {
		out, err := i.Systemctl(ctx, args...)
		i.Logger.Info().Strs("args", args).Str("output", string(out)).Msg("systemctl")
		if err != nil {
			return fmt.Errorf("systemctl %s: %w", args[0], err)
		}
	}
	return nil
}

func (i *Installer) writeDefaultConfig() error {
	path := i.path(filepath.Join(configDir, configFile))
	if _, err := os.Stat(path); err == nil {
		i.Logger.Info().Str("path", path).Msg("keeping existing config")
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	content, err := config.DefaultYAML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return err
	}
	i.Logger.Info().Str("path", path).Msg("wrote default config")
	return nil
}

func (i *Installer) path(p string) string {
	if i.Root == "" {
		return p
	}
	return filepath.Join(i.Root, p)
}

func copyFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
