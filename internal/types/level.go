package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AlertLevel is ordered Info < Warning < Critical < Unknown. Filters compare
// levels directly, so Unknown passes every minimum level.
type AlertLevel int

const (
	AlertInfo AlertLevel = iota
	AlertWarning
	AlertCritical
	AlertUnknown
)

var levelNames = [...]string{"Info", "Warning", "Critical", "Unknown"}

func (l AlertLevel) String() string {
	if l < AlertInfo || l > AlertUnknown {
		return "Unknown"
	}
	return levelNames[l]
}

// ParseAlertLevel accepts a level name in any case.
func ParseAlertLevel(s string) (AlertLevel, error) {
	for i, name := range levelNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return AlertLevel(i), nil
		}
	}
	return AlertUnknown, fmt.Errorf("%w: alert level %q", ErrInvalidArgument, s)
}

func (l AlertLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *AlertLevel) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	lvl, err := ParseAlertLevel(s)
	if err != nil {
		return err
	}
	*l = lvl
	return nil
}
