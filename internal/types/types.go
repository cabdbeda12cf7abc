package types

import "github.com/google/uuid"

// Blockdevice is a physical, virtual or partition device as reported by lsblk.
type Blockdevice struct {
	Name          string        `json:"name"`
	Removable     bool          `json:"removable"`
	SizeKB        uint64        `json:"size_kb"`
	ReadOnly      bool          `json:"read_only"`
	Mountpoint    *string       `json:"mountpoint,omitempty"`
	DeviceType    string        `json:"type"`
	MajMin        string        `json:"maj:min"`
	Model         *string       `json:"model,omitempty"`
	Serial        *string       `json:"serial,omitempty"`
	UUID          *string       `json:"uuid,omitempty"`
	Label         *string       `json:"label,omitempty"`
	WorldWideName *string       `json:"wwn,omitempty"`
	DiskID        *string       `json:"disk_id,omitempty"`
	Children      []Blockdevice `json:"children,omitempty"`
}

// DiskID maps a stable by-id symlink name to the device it resolves to.
type DiskID struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

type SmartDevice struct {
	Name       string `json:"name"`
	DeviceType string `json:"type"`
	Protocol   string `json:"protocol"`
}

type SmartFlags struct {
	Value         uint8  `json:"value"`
	String        string `json:"string"`
	Prefailure    bool   `json:"prefailure"`
	UpdatedOnline bool   `json:"updated_online"`
	Performance   bool   `json:"performance"`
	ErrorRate     bool   `json:"error_rate"`
	EventCount    bool   `json:"event_count"`
	AutoKeep      bool   `json:"auto_keep"`
}

type SmartAttribute struct {
	ID        uint16     `json:"id"`
	Name      string     `json:"name"`
	Value     uint8      `json:"value"`
	Worst     uint8      `json:"worst"`
	Threshold uint8      `json:"threshold"`
	Raw       uint64     `json:"raw"`
	Flags     SmartFlags `json:"flags"`
	Caution   bool       `json:"caution"`
}

// Smart is the evaluated SMART report of a single drive. Caution is set when
// any attribute is in caution, independently of the vendor verdict in Passed.
type Smart struct {
	Device          SmartDevice      `json:"device"`
	Passed          bool             `json:"passed"`
	PowerOnHours    uint64           `json:"power_on_hours"`
	PowerCycleCount uint64           `json:"power_cycle_count"`
	Attributes      []SmartAttribute `json:"attributes"`
	Caution         bool             `json:"caution"`
}

type Alert struct {
	UUID             uuid.UUID  `json:"uuid"`
	Source           string     `json:"source"`
	Klass            string     `json:"klass"`
	Node             string     `json:"node"`
	Dismissed        bool       `json:"dismissed"`
	Text             string     `json:"text"`
	Level            AlertLevel `json:"level"`
	OneShot          bool       `json:"one_shot"`
	DatetimeMS       uint64     `json:"datetime_ms"`
	LastOccurrenceMS uint64     `json:"last_occurrence_ms"`
}

type Services struct {
	TrueNASEnabled  bool   `json:"truenas_enabled"`
	SmartEnabled    bool   `json:"smart_enabled"`
	TrueNASStatus   bool   `json:"truenas_status"`
	Root            bool   `json:"root"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	KernelVersion   string `json:"kernel_version,omitempty"`
}

type DiskHealth struct {
	Name    string   `json:"name"`
	DiskID  string   `json:"disk_id,omitempty"`
	Model   string   `json:"model,omitempty"`
	Status  string   `json:"status"`
	Passed  *bool    `json:"passed,omitempty"`
	Caution bool     `json:"caution"`
	Issues  []string `json:"issues,omitempty"`
}

type HealthReport struct {
	Status string       `json:"status"`
	Disks  []DiskHealth `json:"disks"`
}
