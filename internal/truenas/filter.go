package truenas

import "github.com/metabinary-ltd/drivewatch/internal/types"

// FilterAlerts keeps alerts at or above minimum, dropping dismissed ones
// unless includeDismissed is set. Order is preserved.
func FilterAlerts(alerts []types.Alert, minimum types.AlertLevel, includeDismissed bool) []types.Alert {
	out := make([]types.Alert, 0, len(alerts))
	for _, a := range alerts {
		if a.Dismissed && !includeDismissed {
			continue
		}
		if a.Level < minimum {
			continue
		}
		out = append(out, a)
	}
	return out
}
