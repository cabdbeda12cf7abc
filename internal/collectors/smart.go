package collectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/metabinary-ltd/drivewatch/internal/config"
	"github.com/metabinary-ltd/drivewatch/internal/startup"
	"github.com/metabinary-ltd/drivewatch/internal/types"
)

// smartctl exit status bits 0 and 1 mean the command line could not be
// parsed or the device could not be opened; the remaining bits describe the
// drive and still come with a full JSON report.
const smartctlFatalBits = 0x03

const (
	attrReadErrorRate         = 0x01
	attrReallocatedSectors    = 0x05
	attrSpinRetryCount        = 0x0A
	attrReallocationEvents    = 0xC4
	attrCurrentPendingSectors = 0xC5
	attrOfflineUncorrectable  = 0xC6
)

type SmartCollector struct {
	runner  Runner
	caps    startup.Capabilities
	logger  zerolog.Logger
	binPath string
	devDir  string
}

func NewSmartCollector(cfg config.Config, caps startup.Capabilities, runner Runner, logger zerolog.Logger) *SmartCollector {
	return &SmartCollector{
		runner:  runner,
		caps:    caps,
		logger:  logger.With().Str("component", "smart").Logger(),
		binPath: cfg.Tools.Smartctl,
		devDir:  cfg.Paths.DevDir,
	}
}

// ReadSmart queries smartctl for one drive and evaluates every attribute.
func (c *SmartCollector) ReadSmart(ctx context.Context, drive string) (types.Smart, error) {
	if !c.caps.Supported() {
		return types.Smart{}, fmt.Errorf("%w: %s", types.ErrUnsupported, c.caps.GOOS)
	}
	if !validDriveName(drive) {
		return types.Smart{}, fmt.Errorf("%w: drive name %q", types.ErrInvalidArgument, drive)
	}

	dev := filepath.Join(c.devDir, drive)
	out, err := c.runner.Run(ctx, c.binPath, "-j", "-H", "-A", dev)
	if err != nil {
		var exitErr *ExitError
		if !errors.As(err, &exitErr) || exitErr.Code&smartctlFatalBits != 0 {
			c.logger.Warn().Err(err).Str("disk", drive).Msg("smartctl failed")
			return types.Smart{}, fmt.Errorf("%w: smartctl %s: %v", types.ErrToolFailed, dev, err)
		}
		c.logger.Debug().Int("exit", exitErr.Code).Str("disk", drive).Msg("smartctl reported drive status bits")
		out = exitErr.Stdout
	}

	smart, err := parseSmartctl(out)
	if err != nil {
		c.logger.Warn().Err(err).Str("disk", drive).Msg("smartctl output rejected")
		return types.Smart{}, err
	}
	return smart, nil
}

func validDriveName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\ \t\n\r\x00")
}

type smartctlOutput struct {
	SmartStatus *struct {
		Passed *bool `json:"passed"`
	} `json:"smart_status"`
	ATASmartAttributes *struct {
		Table *[]smartctlAttribute `json:"table"`
	} `json:"ata_smart_attributes"`
	PowerCycleCount *uint64 `json:"power_cycle_count"`
	PowerOnTime     *struct {
		Hours *uint64 `json:"hours"`
	} `json:"power_on_time"`
	Device *smartctlDevice `json:"device"`
}

type smartctlDevice struct {
	Name     *string `json:"name"`
	Type     *string `json:"type"`
	Protocol *string `json:"protocol"`
}

type smartctlAttribute struct {
	ID     *uint16 `json:"id"`
	Name   *string `json:"name"`
	Value  *uint8  `json:"value"`
	Worst  *uint8  `json:"worst"`
	Thresh *uint8  `json:"thresh"`
	Raw    *struct {
		Value *uint64 `json:"value"`
	} `json:"raw"`
	Flags *smartctlFlags `json:"flags"`
}

type smartctlFlags struct {
	Value         *uint8  `json:"value"`
	String        *string `json:"string"`
	Prefailure    *bool   `json:"prefailure"`
	UpdatedOnline *bool   `json:"updated_online"`
	Performance   *bool   `json:"performance"`
	ErrorRate     *bool   `json:"error_rate"`
	EventCount    *bool   `json:"event_count"`
	AutoKeep      *bool   `json:"auto_keep"`
}

// parseSmartctl rejects the whole report when any field the evaluation
// depends on is absent; zero values are never substituted.
func parseSmartctl(out []byte) (types.Smart, error) {
	var res smartctlOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return types.Smart{}, fmt.Errorf("%w: smartctl json: %v", types.ErrMalformed, err)
	}
	missing := firstMissing(
		field{"smart_status", res.SmartStatus != nil},
		field{"smart_status.passed", res.SmartStatus != nil && res.SmartStatus.Passed != nil},
		field{"ata_smart_attributes", res.ATASmartAttributes != nil},
		field{"ata_smart_attributes.table", res.ATASmartAttributes != nil && res.ATASmartAttributes.Table != nil},
		field{"power_cycle_count", res.PowerCycleCount != nil},
		field{"power_on_time", res.PowerOnTime != nil},
		field{"power_on_time.hours", res.PowerOnTime != nil && res.PowerOnTime.Hours != nil},
		field{"device", res.Device != nil},
	)
	if missing != "" {
		return types.Smart{}, fmt.Errorf("%w: smartctl json: missing %s", types.ErrMalformed, missing)
	}
	device, err := res.Device.normalize()
	if err != nil {
		return types.Smart{}, err
	}

	table := *res.ATASmartAttributes.Table
	attrs := make([]types.SmartAttribute, 0, len(table))
	for i, a := range table {
		attr, err := a.normalize()
		if err != nil {
			return types.Smart{}, fmt.Errorf("%w (attribute %d)", err, i)
		}
		attr.Caution = AttributeCaution(attr)
		attrs = append(attrs, attr)
	}

	return types.Smart{
		Device:          device,
		Passed:          *res.SmartStatus.Passed,
		PowerOnHours:    *res.PowerOnTime.Hours,
		PowerCycleCount: *res.PowerCycleCount,
		Attributes:      attrs,
		Caution:         AnyCaution(attrs),
	}, nil
}

func (d smartctlDevice) normalize() (types.SmartDevice, error) {
	if m := firstMissing(
		field{"name", d.Name != nil},
		field{"type", d.Type != nil},
		field{"protocol", d.Protocol != nil},
	); m != "" {
		return types.SmartDevice{}, fmt.Errorf("%w: smartctl json: device missing %s", types.ErrMalformed, m)
	}
	return types.SmartDevice{Name: *d.Name, DeviceType: *d.Type, Protocol: *d.Protocol}, nil
}

func (a smartctlAttribute) normalize() (types.SmartAttribute, error) {
	if m := firstMissing(
		field{"id", a.ID != nil},
		field{"name", a.Name != nil},
		field{"value", a.Value != nil},
		field{"worst", a.Worst != nil},
		field{"thresh", a.Thresh != nil},
		field{"raw", a.Raw != nil},
		field{"raw.value", a.Raw != nil && a.Raw.Value != nil},
		field{"flags", a.Flags != nil},
	); m != "" {
		return types.SmartAttribute{}, fmt.Errorf("%w: smartctl json: attribute missing %s", types.ErrMalformed, m)
	}
	flags, err := a.Flags.normalize()
	if err != nil {
		return types.SmartAttribute{}, err
	}
	return types.SmartAttribute{
		ID:        *a.ID,
		Name:      *a.Name,
		Value:     *a.Value,
		Worst:     *a.Worst,
		Threshold: *a.Thresh,
		Raw:       *a.Raw.Value,
		Flags:     flags,
	}, nil
}

func (f smartctlFlags) normalize() (types.SmartFlags, error) {
	if m := firstMissing(
		field{"value", f.Value != nil},
		field{"string", f.String != nil},
		field{"prefailure", f.Prefailure != nil},
		field{"updated_online", f.UpdatedOnline != nil},
		field{"performance", f.Performance != nil},
		field{"error_rate", f.ErrorRate != nil},
		field{"event_count", f.EventCount != nil},
		field{"auto_keep", f.AutoKeep != nil},
	); m != "" {
		return types.SmartFlags{}, fmt.Errorf("%w: smartctl json: flags missing %s", types.ErrMalformed, m)
	}
	return types.SmartFlags{
		Value:         *f.Value,
		String:        *f.String,
		Prefailure:    *f.Prefailure,
		UpdatedOnline: *f.UpdatedOnline,
		Performance:   *f.Performance,
		ErrorRate:     *f.ErrorRate,
		EventCount:    *f.EventCount,
		AutoKeep:      *f.AutoKeep,
	}, nil
}

// AttributeCaution flags an attribute once the vendor threshold has been
// reached, or earlier for counters where any growth signals media damage.
func AttributeCaution(a types.SmartAttribute) bool {
	if a.Worst <= a.Threshold {
		return true
	}
	switch a.ID {
	case attrReadErrorRate:
		// grows on healthy older drives as well
		return false
	case attrReallocatedSectors:
		return a.Raw > 0
	case attrSpinRetryCount:
		return a.Raw > 1
	case attrReallocationEvents:
		return a.Raw > 0
	case attrCurrentPendingSectors:
		return a.Raw > 0
	case attrOfflineUncorrectable:
		return a.Raw > 0
	default:
		return false
	}
}

func AnyCaution(attrs []types.SmartAttribute) bool {
	for _, a := range attrs {
		if a.Caution {
			return true
		}
	}
	return false
}
