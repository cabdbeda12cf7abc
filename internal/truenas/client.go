package truenas

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/metabinary-ltd/drivewatch/internal/config"
	"github.com/metabinary-ltd/drivewatch/internal/types"
)

const (
	alertListPath = "/api/v2.0/alert/list"
	pingPath      = "/api/v2.0/core/ping"
)

// Client talks to the TrueNAS REST API with a bearer token. It holds no
// state besides its configuration and is safe for concurrent use.
type Client struct {
	base   *url.URL
	token  string
	client *http.Client
	logger zerolog.Logger
}

// New builds a client from the truenas section. It returns ErrDisabled when
// the feed is turned off or missing an address or token.
func New(cfg config.Config, logger zerolog.Logger) (*Client, error) {
	if !cfg.TrueNASEnabled() {
		return nil, fmt.Errorf("%w: truenas", types.ErrDisabled)
	}
	base, err := url.Parse(cfg.TrueNAS.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: truenas address: %v", types.ErrInvalidArgument, err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TrueNAS.AcceptInvalidCerts {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed appliances
	}

	return &Client{
		base:  base,
		token: cfg.TrueNAS.Token,
		client: &http.Client{
			Timeout:   cfg.TrueNAS.Timeout,
			Transport: transport,
		},
		logger: logger.With().Str("component", "truenas").Logger(),
	}, nil
}

type alertRecord struct {
	UUID      *uuid.UUID `json:"uuid"`
	Source    *string    `json:"source"`
	Klass     *string    `json:"klass"`
	Node      *string    `json:"node"`
	Dismissed *bool      `json:"dismissed"`
	// null is accepted and yields empty text, an absent key is not
	Formatted      json.RawMessage `json:"formatted"`
	Level          *string         `json:"level"`
	OneShot        *bool           `json:"one_shot"`
	Datetime       *mongoDate      `json:"datetime"`
	LastOccurrence *mongoDate      `json:"last_occurrence"`
}

type mongoDate struct {
	Date *uint64 `json:"$date"`
}

// FetchAlerts returns every alert the appliance currently knows about,
// dismissed ones included. Any failure discards the whole list.
func (c *Client) FetchAlerts(ctx context.Context) ([]types.Alert, error) {
	body, err := c.get(ctx, alertListPath)
	if err != nil {
		c.logger.Warn().Err(err).Msg("alert list request failed")
		return nil, err
	}

	var records []alertRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("%w: decode alert list: %v", types.ErrRemote, err)
	}

	alerts := make([]types.Alert, 0, len(records))
	for i, r := range records {
		a, err := r.normalize()
		if err != nil {
			return nil, fmt.Errorf("%w: alert %d: %v", types.ErrRemote, i, err)
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// Ping reports whether the appliance answers its ping endpoint with a 2xx.
func (c *Client) Ping(ctx context.Context) bool {
	if _, err := c.get(ctx, pingPath); err != nil {
		c.logger.Debug().Err(err).Msg("truenas ping failed")
		return false
	}
	return true
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	target := c.base.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", types.ErrRemote, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: send request: %v", types.ErrRemote, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", types.ErrRemote, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s: status %d", types.ErrRemote, path, resp.StatusCode)
	}
	return body, nil
}

func (r alertRecord) normalize() (types.Alert, error) {
	required := []struct {
		name    string
		present bool
	}{
		{"uuid", r.UUID != nil},
		{"source", r.Source != nil},
		{"klass", r.Klass != nil},
		{"node", r.Node != nil},
		{"dismissed", r.Dismissed != nil},
		{"formatted", r.Formatted != nil},
		{"level", r.Level != nil},
		{"one_shot", r.OneShot != nil},
		{"datetime", r.Datetime != nil && r.Datetime.Date != nil},
		{"last_occurrence", r.LastOccurrence != nil && r.LastOccurrence.Date != nil},
	}
	for _, f := range required {
		if !f.present {
			return types.Alert{}, fmt.Errorf("missing %s", f.name)
		}
	}

	var text *string
	if err := json.Unmarshal(r.Formatted, &text); err != nil {
		return types.Alert{}, fmt.Errorf("formatted: %v", err)
	}
	a := types.Alert{
		UUID:             *r.UUID,
		Source:           *r.Source,
		Klass:            *r.Klass,
		Node:             *r.Node,
		Dismissed:        *r.Dismissed,
		Level:            mapLevel(*r.Level),
		OneShot:          *r.OneShot,
		DatetimeMS:       *r.Datetime.Date,
		LastOccurrenceMS: *r.LastOccurrence.Date,
	}
	if text != nil {
		a.Text = *text
	}
	return a, nil
}

func mapLevel(level string) types.AlertLevel {
	switch level {
	case "INFO":
		return types.AlertInfo
	case "WARNING":
		return types.AlertWarning
	case "CRITICAL":
		return types.AlertCritical
	default:
		return types.AlertUnknown
	}
}
