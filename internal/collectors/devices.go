package collectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/metabinary-ltd/drivewatch/internal/config"
	"github.com/metabinary-ltd/drivewatch/internal/startup"
	"github.com/metabinary-ltd/drivewatch/internal/types"
)

var lsblkArgs = []string{"-J", "-o", "NAME,MAJ:MIN,RM,SIZE,RO,TYPE,MOUNTPOINT,MODEL,SERIAL,UUID,LABEL,WWN"}

type DeviceCollector struct {
	runner  Runner
	caps    startup.Capabilities
	logger  zerolog.Logger
	binPath string
	byIDDir string
	devDir  string
}

func NewDeviceCollector(cfg config.Config, caps startup.Capabilities, runner Runner, logger zerolog.Logger) *DeviceCollector {
	return &DeviceCollector{
		runner:  runner,
		caps:    caps,
		logger:  logger.With().Str("component", "devices").Logger(),
		binPath: cfg.Tools.Lsblk,
		byIDDir: cfg.Paths.ByIDDir,
		devDir:  cfg.Paths.DevDir,
	}
}

// ListDevices returns the block device tree with stable ids attached.
func (c *DeviceCollector) ListDevices(ctx context.Context) ([]types.Blockdevice, error) {
	if !c.caps.Supported() {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupported, c.caps.GOOS)
	}

	out, err := c.runner.Run(ctx, c.binPath, lsblkArgs...)
	if err != nil {
		c.logger.Warn().Err(err).Msg("lsblk failed")
		return nil, fmt.Errorf("%w: lsblk: %v", types.ErrToolFailed, err)
	}

	devices, err := parseLsblk(out)
	if err != nil {
		c.logger.Warn().Err(err).Msg("lsblk output rejected")
		return nil, err
	}

	ids, err := c.ListDiskIDs()
	if err != nil {
		c.logger.Debug().Err(err).Str("dir", c.byIDDir).Msg("disk ids unavailable")
	}
	attachDiskIDs(devices, ids, c.devDir)
	return devices, nil
}

// ListDisks is ListDevices restricted to top-level entries of type "disk".
func (c *DeviceCollector) ListDisks(ctx context.Context) ([]types.Blockdevice, error) {
	devices, err := c.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	disks := make([]types.Blockdevice, 0, len(devices))
	for _, d := range devices {
		if d.DeviceType == "disk" {
			disks = append(disks, d)
		}
	}
	return disks, nil
}

// ListDiskIDs reads the by-id directory in name order and resolves every
// symlink to its canonical path. Dangling links are skipped.
func (c *DeviceCollector) ListDiskIDs() ([]types.DiskID, error) {
	if !c.caps.Supported() {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupported, c.caps.GOOS)
	}
	entries, err := os.ReadDir(c.byIDDir)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", types.ErrToolFailed, c.byIDDir, err)
	}
	ids := make([]types.DiskID, 0, len(entries))
	for _, e := range entries {
		full := filepath.Join(c.byIDDir, e.Name())
		target, err := filepath.EvalSymlinks(full)
		if err != nil {
			c.logger.Debug().Err(err).Str("id", e.Name()).Msg("skipping unresolvable id")
			continue
		}
		ids = append(ids, types.DiskID{ID: e.Name(), Path: target})
	}
	return ids, nil
}

// ResolveDiskID returns the device name a stable id points at.
func (c *DeviceCollector) ResolveDiskID(id string) (string, error) {
	ids, err := c.ListDiskIDs()
	if err != nil {
		return "", err
	}
	for _, d := range ids {
		if d.ID == id {
			return filepath.Base(d.Path), nil
		}
	}
	return "", fmt.Errorf("%w: disk id %q", types.ErrNotFound, id)
}

func attachDiskIDs(devices []types.Blockdevice, ids []types.DiskID, devDir string) {
	for i := range devices {
		devices[i].DiskID = resolveDiskID(devices[i].Name, devices[i].WorldWideName, ids, devDir)
		attachDiskIDs(devices[i].Children, ids, devDir)
	}
}

// resolveDiskID picks the first id linking to the device, skipping ids that
// merely repeat the device's wwn when another id for the same path exists.
func resolveDiskID(name string, wwn *string, ids []types.DiskID, devDir string) *string {
	raw := filepath.Join(devDir, name)
	var fallback *string
	for _, id := range ids {
		if id.Path != raw {
			continue
		}
		v := id.ID
		if !isWWNID(v, wwn) {
			return &v
		}
		if fallback == nil {
			fallback = &v
		}
	}
	return fallback
}

func isWWNID(id string, wwn *string) bool {
	if wwn == nil || *wwn == "" {
		return false
	}
	return id == *wwn || id == "wwn-"+*wwn
}

type lsblkOutput struct {
	Blockdevices *[]lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name       *string       `json:"name"`
	MajMin     *string       `json:"maj:min"`
	Removable  *flexBool     `json:"rm"`
	Size       *string       `json:"size"`
	ReadOnly   *flexBool     `json:"ro"`
	DeviceType *string       `json:"type"`
	Mountpoint *string       `json:"mountpoint"`
	Model      *string       `json:"model"`
	Serial     *string       `json:"serial"`
	UUID       *string       `json:"uuid"`
	Label      *string       `json:"label"`
	WWN        *string       `json:"wwn"`
	Children   []lsblkDevice `json:"children"`
}

func parseLsblk(out []byte) ([]types.Blockdevice, error) {
	var res lsblkOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, fmt.Errorf("%w: lsblk json: %v", types.ErrMalformed, err)
	}
	if res.Blockdevices == nil {
		return nil, fmt.Errorf("%w: lsblk json: missing blockdevices", types.ErrMalformed)
	}
	return normalizeDevices(*res.Blockdevices)
}

func normalizeDevices(in []lsblkDevice) ([]types.Blockdevice, error) {
	out := make([]types.Blockdevice, 0, len(in))
	for _, d := range in {
		dev, err := d.normalize()
		if err != nil {
			return nil, err
		}
		out = append(out, dev)
	}
	return out, nil
}

func (d lsblkDevice) normalize() (types.Blockdevice, error) {
	if m := firstMissing(
		field{"name", d.Name != nil},
		field{"maj:min", d.MajMin != nil},
		field{"rm", d.Removable != nil},
		field{"size", d.Size != nil},
		field{"ro", d.ReadOnly != nil},
		field{"type", d.DeviceType != nil},
	); m != "" {
		return types.Blockdevice{}, fmt.Errorf("%w: lsblk device missing %s", types.ErrMalformed, m)
	}
	dev := types.Blockdevice{
		Name:          *d.Name,
		Removable:     bool(*d.Removable),
		SizeKB:        ParseSize(*d.Size),
		ReadOnly:      bool(*d.ReadOnly),
		Mountpoint:    d.Mountpoint,
		DeviceType:    *d.DeviceType,
		MajMin:        *d.MajMin,
		Model:         trimmed(d.Model),
		Serial:        trimmed(d.Serial),
		UUID:          d.UUID,
		Label:         d.Label,
		WorldWideName: trimmed(d.WWN),
	}
	if d.Children != nil {
		children, err := normalizeDevices(d.Children)
		if err != nil {
			return types.Blockdevice{}, err
		}
		dev.Children = children
	}
	return dev, nil
}

var unitExponent = map[rune]float64{'k': 0, 'm': 1, 'g': 2, 't': 3, 'p': 4}

// ParseSize converts an lsblk human size such as "465,8G" into decimal
// kilobytes. The magnitude is binary (1024-based) and rescaled by 1024/1000.
// An unparseable number or unknown unit yields 0.
func ParseSize(s string) uint64 {
	text := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), ",", "."))
	if text == "" {
		return 0
	}
	unit, width := utf8.DecodeLastRuneInString(text)
	exp, ok := unitExponent[unit]
	if !ok {
		return 0
	}
	num, err := strconv.ParseFloat(text[:len(text)-width], 64)
	if err != nil || math.IsNaN(num) {
		num = 0
	}
	size := num * math.Pow(1024, exp) * 1024 / 1000
	switch {
	case size <= 0:
		return 0
	case size >= math.MaxUint64:
		return math.MaxUint64
	}
	return uint64(size)
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// flexBool accepts the boolean, "0"/"1" string and 0/1 number forms that
// different lsblk versions emit for rm and ro.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("invalid boolean %s", data)
	}
	*b = flexBool(v)
	return nil
}
