package health

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/metabinary-ltd/drivewatch/internal/types"
)

const (
	StatusOK      = "ok"
	StatusCaution = "caution"
	StatusFailed  = "failed"
	StatusUnknown = "unknown"
)

var severity = map[string]int{
	StatusOK:      0,
	StatusUnknown: 1,
	StatusCaution: 2,
	StatusFailed:  3,
}

type Provider interface {
	Summary(ctx context.Context) (types.HealthReport, error)
}

type DiskLister interface {
	ListDisks(ctx context.Context) ([]types.Blockdevice, error)
}

type SmartReader interface {
	ReadSmart(ctx context.Context, drive string) (types.Smart, error)
}

// InspectingProvider builds a report from a fresh inspection on every call.
type InspectingProvider struct {
	disks  DiskLister
	smart  SmartReader
	logger zerolog.Logger
}

func NewInspectingProvider(disks DiskLister, smart SmartReader, logger zerolog.Logger) *InspectingProvider {
	return &InspectingProvider{
		disks:  disks,
		smart:  smart,
		logger: logger.With().Str("component", "health").Logger(),
	}
}

func (p *InspectingProvider) Summary(ctx context.Context) (types.HealthReport, error) {
	disks, err := p.disks.ListDisks(ctx)
	if err != nil {
		return types.HealthReport{}, err
	}

	report := types.HealthReport{
		Status: StatusOK,
		Disks:  make([]types.DiskHealth, 0, len(disks)),
	}
	for _, d := range disks {
		dh := p.evaluateDisk(ctx, d)
		report.Disks = append(report.Disks, dh)
		report.Status = Worst(report.Status, dh.Status)
	}
	return report, nil
}

func (p *InspectingProvider) evaluateDisk(ctx context.Context, d types.Blockdevice) types.DiskHealth {
	health := types.DiskHealth{
		Name:   d.Name,
		Status: StatusOK,
	}
	if d.DiskID != nil {
		health.DiskID = *d.DiskID
	}
	if d.Model != nil {
		health.Model = *d.Model
	}

	smart, err := p.smart.ReadSmart(ctx, d.Name)
	if err != nil {
		p.logger.Debug().Err(err).Str("disk", d.Name).Str("kind", types.Kind(err)).Msg("smart unavailable")
		health.Status = StatusUnknown
		health.Issues = []string{"smart_" + types.Kind(err)}
		return health
	}

	passed := smart.Passed
	health.Passed = &passed
	health.Caution = smart.Caution
	for _, a := range smart.Attributes {
		if a.Caution {
			health.Issues = append(health.Issues, attributeLabel(a))
		}
	}

	switch {
	case !smart.Passed:
		health.Status = StatusFailed
		health.Issues = append([]string{"smart_failed"}, health.Issues...)
	case smart.Caution:
		health.Status = StatusCaution
	}
	return health
}

func attributeLabel(a types.SmartAttribute) string {
	if a.Name != "" {
		return a.Name
	}
	return "attribute_" + strconv.Itoa(int(a.ID))
}

// Worst returns the more severe of two statuses.
func Worst(a, b string) string {
	if severity[b] > severity[a] {
		return b
	}
	return a
}
