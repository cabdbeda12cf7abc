package startup

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/metabinary-ltd/drivewatch/internal/config"
)

// Capabilities is computed once at startup and passed to every component
// that needs to know what the process is allowed to inspect.
type Capabilities struct {
	GOOS            string
	Root            bool
	LsblkFound      bool
	SmartctlFound   bool
	Platform        string
	PlatformVersion string
	KernelVersion   string
}

// Supported reports whether block-device and SMART inspection can run on
// this operating system at all.
func (c Capabilities) Supported() bool {
	return c.GOOS != "" && c.GOOS != "windows"
}

// SmartEnabled requires a supported OS, effective root and smartctl on PATH.
func (c Capabilities) SmartEnabled() bool {
	return c.Supported() && c.Root && c.SmartctlFound
}

type LookPathFunc func(string) (string, error)

func Detect(cfg config.Config, lookPath LookPathFunc) Capabilities {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	caps := Capabilities{
		GOOS:          runtime.GOOS,
		Root:          isRoot(),
		LsblkFound:    ensureBinary(lookPath, cfg.Tools.Lsblk) == nil,
		SmartctlFound: ensureBinary(lookPath, cfg.Tools.Smartctl) == nil,
	}
	if info, err := host.Info(); err == nil {
		caps.Platform = info.Platform
		caps.PlatformVersion = info.PlatformVersion
		caps.KernelVersion = info.KernelVersion
	}
	return caps
}

func ensureBinary(lookPath LookPathFunc, name string) error {
	if name == "" {
		return fmt.Errorf("binary not specified")
	}
	if _, err := lookPath(name); err != nil {
		return fmt.Errorf("required binary not found: %s", name)
	}
	return nil
}
