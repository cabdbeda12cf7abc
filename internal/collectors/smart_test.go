package collectors

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"testing"

	"github.com/rs/zerolog"

	"github.com/metabinary-ltd/drivewatch/internal/config"
	"github.com/metabinary-ltd/drivewatch/internal/startup"
	"github.com/metabinary-ltd/drivewatch/internal/types"
)

func TestParseSmartctlATA(t *testing.T) {
	smart, err := parseSmartctl(readFixture(t, "smart_ata.json"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !smart.Passed {
		t.Fatalf("expected passed")
	}
	if smart.Device.Name != "/dev/sda" || smart.Device.DeviceType != "sat" || smart.Device.Protocol != "ATA" {
		t.Fatalf("unexpected device: %+v", smart.Device)
	}
	if smart.PowerOnHours != 1234 || smart.PowerCycleCount != 87 {
		t.Fatalf("unexpected counters: poh=%d pcc=%d", smart.PowerOnHours, smart.PowerCycleCount)
	}
	if len(smart.Attributes) != 6 {
		t.Fatalf("expected 6 attributes, got %d", len(smart.Attributes))
	}
	first := smart.Attributes[0]
	if first.ID != 1 || first.Name != "Raw_Read_Error_Rate" || first.Threshold != 51 || first.Raw != 4127 {
		t.Fatalf("unexpected first attribute: %+v", first)
	}
	if first.Flags.Value != 47 || !first.Flags.Prefailure || !first.Flags.ErrorRate || first.Flags.EventCount || first.Flags.String != "POSR-K " {
		t.Fatalf("unexpected flags: %+v", first.Flags)
	}
	for _, a := range smart.Attributes {
		if a.Caution {
			t.Fatalf("attribute %d unexpectedly in caution", a.ID)
		}
	}
	if smart.Caution {
		t.Fatalf("healthy drive in caution")
	}
}

func TestParseSmartctlPendingSectors(t *testing.T) {
	smart, err := parseSmartctl(readFixture(t, "smart_pending.json"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !smart.Passed {
		t.Fatalf("vendor verdict should still be passed")
	}
	if smart.Attributes[0].Caution || !smart.Attributes[1].Caution {
		t.Fatalf("unexpected attribute cautions: %+v", smart.Attributes)
	}
	if !smart.Caution {
		t.Fatalf("expected aggregate caution")
	}
}

func TestParseSmartctlMalformed(t *testing.T) {
	inputs := map[string]string{
		"empty":        ``,
		"nvme":         string(readFixture(t, "smart_nvme.json")),
		"no status":    `{"ata_smart_attributes": {"table": []}, "power_cycle_count": 1, "power_on_time": {"hours": 1}, "device": {"name": "/dev/sda", "type": "sat", "protocol": "ATA"}}`,
		"no cycles":    `{"smart_status": {"passed": true}, "ata_smart_attributes": {"table": []}, "power_on_time": {"hours": 1}, "device": {"name": "/dev/sda", "type": "sat", "protocol": "ATA"}}`,
		"no hours":     `{"smart_status": {"passed": true}, "ata_smart_attributes": {"table": []}, "power_cycle_count": 1, "device": {"name": "/dev/sda", "type": "sat", "protocol": "ATA"}}`,
		"no device":    `{"smart_status": {"passed": true}, "ata_smart_attributes": {"table": []}, "power_cycle_count": 1, "power_on_time": {"hours": 1}}`,
		"value > u8":   `{"smart_status": {"passed": true}, "ata_smart_attributes": {"table": [{"id": 5, "value": 300, "worst": 1, "thresh": 1, "raw": {"value": 0}}]}, "power_cycle_count": 1, "power_on_time": {"hours": 1}, "device": {"name": "/dev/sda", "type": "sat", "protocol": "ATA"}}`,
		"raw > u64":    `{"smart_status": {"passed": true}, "ata_smart_attributes": {"table": [{"id": 5, "value": 100, "worst": 100, "thresh": 1, "raw": {"value": 18446744073709551616}}]}, "power_cycle_count": 1, "power_on_time": {"hours": 1}, "device": {"name": "/dev/sda", "type": "sat", "protocol": "ATA"}}`,
		"negative raw": `{"smart_status": {"passed": true}, "ata_smart_attributes": {"table": [{"id": 5, "value": 100, "worst": 100, "thresh": 1, "raw": {"value": -1}}]}, "power_cycle_count": 1, "power_on_time": {"hours": 1}, "device": {"name": "/dev/sda", "type": "sat", "protocol": "ATA"}}`,
	}
	for name, in := range inputs {
		if _, err := parseSmartctl([]byte(in)); !errors.Is(err, types.ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestParseSmartctlZeroAttributes(t *testing.T) {
	in := `{"smart_status": {"passed": false}, "ata_smart_attributes": {"table": []}, "power_cycle_count": 3, "power_on_time": {"hours": 9}, "device": {"name": "/dev/sdc", "type": "sat", "protocol": "ATA"}}`
	smart, err := parseSmartctl([]byte(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if smart.Caution {
		t.Fatalf("no attributes means no caution")
	}
	if smart.Passed {
		t.Fatalf("expected vendor failure to be reported")
	}
}

func TestAttributeCautionThresholdTripped(t *testing.T) {
	ids := []uint16{0x01, 0x05, 0x09, 0x0A, 0xC2, 0xC4, 0xC5, 0xC6, 0xFF}
	raws := []uint64{0, 1, 2, math.MaxUint64}
	for _, id := range ids {
		for _, raw := range raws {
			for _, pair := range [][2]uint8{{10, 10}, {9, 10}, {0, 0}, {0, 255}} {
				a := types.SmartAttribute{ID: id, Worst: pair[0], Threshold: pair[1], Raw: raw}
				if !AttributeCaution(a) {
					t.Fatalf("id %#x worst %d thresh %d raw %d: expected caution", id, pair[0], pair[1], raw)
				}
			}
		}
	}
}

func TestAttributeCautionRawRules(t *testing.T) {
	cases := []struct {
		id   uint16
		raw  uint64
		want bool
	}{
		{0x01, 0, false},
		{0x01, 1, false},
		{0x01, math.MaxUint64, false},
		{0x05, 0, false},
		{0x05, 1, true},
		{0x05, 4096, true},
		{0x0A, 0, false},
		{0x0A, 1, false},
		{0x0A, 2, true},
		{0xC4, 0, false},
		{0xC4, 1, true},
		{0xC5, 0, false},
		{0xC5, 3, true},
		{0xC6, 0, false},
		{0xC6, 1, true},
		{0x09, 50000, false},
		{0xC2, 60, false},
	}
	for _, tc := range cases {
		a := types.SmartAttribute{ID: tc.id, Value: 100, Worst: 100, Threshold: 10, Raw: tc.raw}
		if got := AttributeCaution(a); got != tc.want {
			t.Fatalf("id %#x raw %d: got %v, want %v", tc.id, tc.raw, got, tc.want)
		}
	}
}

func TestAnyCaution(t *testing.T) {
	if AnyCaution(nil) {
		t.Fatalf("empty set in caution")
	}
	attrs := []types.SmartAttribute{{ID: 1}, {ID: 5}, {ID: 9}}
	if AnyCaution(attrs) {
		t.Fatalf("no attribute flagged")
	}
	attrs[2].Caution = true
	if !AnyCaution(attrs) {
		t.Fatalf("expected caution")
	}
}

func TestReadSmartRunsSmartctl(t *testing.T) {
	runner := &fakeRunner{out: readFixture(t, "smart_ata.json")}
	c := NewSmartCollector(config.Defaults(), linux, runner, zerolog.Nop())
	smart, err := c.ReadSmart(context.Background(), "sda")
	if err != nil {
		t.Fatalf("read smart: %v", err)
	}
	if smart.PowerOnHours != 1234 {
		t.Fatalf("unexpected poh %d", smart.PowerOnHours)
	}
	want := []string{"smartctl", "-j", "-H", "-A", "/dev/sda"}
	if len(runner.calls) != 1 || len(runner.calls[0]) != len(want) {
		t.Fatalf("unexpected calls: %v", runner.calls)
	}
	for i, arg := range want {
		if runner.calls[0][i] != arg {
			t.Fatalf("arg %d: got %q want %q", i, runner.calls[0][i], arg)
		}
	}
}

func TestReadSmartExitStatus(t *testing.T) {
	fixture := readFixture(t, "smart_pending.json")

	// bit 6: error log contains errors, report still valid
	runner := &fakeRunner{err: &ExitError{Code: 0x40, Stdout: fixture}}
	c := NewSmartCollector(config.Defaults(), linux, runner, zerolog.Nop())
	smart, err := c.ReadSmart(context.Background(), "sdb")
	if err != nil {
		t.Fatalf("informational exit bits must not fail: %v", err)
	}
	if !smart.Caution {
		t.Fatalf("expected caution from pending sectors")
	}

	// bit 1: device open failed
	runner = &fakeRunner{err: &ExitError{Code: 0x02, Stdout: fixture}}
	c = NewSmartCollector(config.Defaults(), linux, runner, zerolog.Nop())
	if _, err := c.ReadSmart(context.Background(), "sdb"); !errors.Is(err, types.ErrToolFailed) {
		t.Fatalf("expected ErrToolFailed, got %v", err)
	}

	runner = &fakeRunner{err: errors.New("exec: \"smartctl\": executable file not found in $PATH")}
	c = NewSmartCollector(config.Defaults(), linux, runner, zerolog.Nop())
	if _, err := c.ReadSmart(context.Background(), "sdb"); !errors.Is(err, types.ErrToolFailed) {
		t.Fatalf("expected ErrToolFailed, got %v", err)
	}

	runner = &fakeRunner{out: []byte("smartctl 7.2\nSMART support is: Unavailable\n")}
	c = NewSmartCollector(config.Defaults(), linux, runner, zerolog.Nop())
	if _, err := c.ReadSmart(context.Background(), "sdb"); !errors.Is(err, types.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestReadSmartRejectsBadNames(t *testing.T) {
	runner := &fakeRunner{out: readFixture(t, "smart_ata.json")}
	c := NewSmartCollector(config.Defaults(), linux, runner, zerolog.Nop())
	for _, name := range []string{"", ".", "..", "../etc/passwd", "sda b", "sda\x00"} {
		if _, err := c.ReadSmart(context.Background(), name); !errors.Is(err, types.ErrInvalidArgument) {
			t.Fatalf("%q: expected ErrInvalidArgument, got %v", name, err)
		}
	}
	if len(runner.calls) != 0 {
		t.Fatalf("smartctl ran for invalid names: %v", runner.calls)
	}
}

func TestReadSmartUnsupportedPlatform(t *testing.T) {
	runner := &fakeRunner{out: readFixture(t, "smart_ata.json")}
	c := NewSmartCollector(config.Defaults(), startup.Capabilities{GOOS: "windows"}, runner, zerolog.Nop())
	if _, err := c.ReadSmart(context.Background(), "sda"); !errors.Is(err, types.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("smartctl ran on unsupported platform")
	}
}

// withoutKey decodes a fixture, deletes the key at path and re-encodes it.
// Numeric path elements index into arrays.
func withoutKey(t *testing.T, fixture []byte, path ...string) []byte {
	t.Helper()
	var doc interface{}
	if err := json.Unmarshal(fixture, &doc); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	node := doc
	for _, key := range path[:len(path)-1] {
		switch v := node.(type) {
		case map[string]interface{}:
			node = v[key]
		case []interface{}:
			i, err := strconv.Atoi(key)
			if err != nil {
				t.Fatalf("bad index %q", key)
			}
			node = v[i]
		}
	}
	m, ok := node.(map[string]interface{})
	if !ok {
		t.Fatalf("path %v does not end in an object", path)
	}
	delete(m, path[len(path)-1])
	out, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return out
}

func TestParseSmartctlMissingFields(t *testing.T) {
	fixture := readFixture(t, "smart_ata.json")
	if _, err := parseSmartctl(fixture); err != nil {
		t.Fatalf("fixture must parse: %v", err)
	}
	paths := [][]string{
		{"smart_status", "passed"},
		{"ata_smart_attributes", "table"},
		{"power_on_time", "hours"},
		{"device", "name"},
		{"device", "type"},
		{"device", "protocol"},
		{"ata_smart_attributes", "table", "2", "id"},
		{"ata_smart_attributes", "table", "2", "name"},
		{"ata_smart_attributes", "table", "2", "value"},
		{"ata_smart_attributes", "table", "2", "worst"},
		{"ata_smart_attributes", "table", "2", "thresh"},
		{"ata_smart_attributes", "table", "2", "raw"},
		{"ata_smart_attributes", "table", "2", "flags"},
		{"ata_smart_attributes", "table", "2", "raw", "value"},
		{"ata_smart_attributes", "table", "2", "flags", "value"},
		{"ata_smart_attributes", "table", "2", "flags", "string"},
		{"ata_smart_attributes", "table", "2", "flags", "prefailure"},
		{"ata_smart_attributes", "table", "2", "flags", "updated_online"},
		{"ata_smart_attributes", "table", "2", "flags", "performance"},
		{"ata_smart_attributes", "table", "2", "flags", "error_rate"},
		{"ata_smart_attributes", "table", "2", "flags", "event_count"},
		{"ata_smart_attributes", "table", "2", "flags", "auto_keep"},
	}
	for _, path := range paths {
		smart, err := parseSmartctl(withoutKey(t, fixture, path...))
		if !errors.Is(err, types.ErrMalformed) {
			t.Fatalf("without %v: expected ErrMalformed, got %v (passed=%v caution=%v)", path, err, smart.Passed, smart.Caution)
		}
	}
}

func TestParseSmartctlEmptySections(t *testing.T) {
	in := `{"smart_status": {}, "ata_smart_attributes": {"table": [{"id": 9, "value": 90, "thresh": 0, "raw": {"value": 1}}]},
		"power_cycle_count": 1, "power_on_time": {}, "device": {}}`
	smart, err := parseSmartctl([]byte(in))
	if !errors.Is(err, types.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v (passed=%v caution=%v)", err, smart.Passed, smart.Caution)
	}
}
