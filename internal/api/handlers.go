package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/metabinary-ltd/drivewatch/internal/metrics"
	"github.com/metabinary-ltd/drivewatch/internal/truenas"
	"github.com/metabinary-ltd/drivewatch/internal/types"
)

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" && r.Header.Get("Authorization") != "Bearer "+s.authToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, "pong")
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	svc := types.Services{
		TrueNASEnabled:  s.deps.Alerts != nil,
		SmartEnabled:    s.caps.SmartEnabled(),
		Root:            s.caps.Root,
		Platform:        s.caps.Platform,
		PlatformVersion: s.caps.PlatformVersion,
		KernelVersion:   s.caps.KernelVersion,
	}
	if s.deps.Alerts != nil {
		svc.TrueNASStatus = s.deps.Alerts.Ping(r.Context())
	}
	writeJSON(w, http.StatusOK, svc)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	devices, err := s.deps.Devices.ListDevices(r.Context())
	s.deps.Metrics.Observe(metrics.ComponentDevices, err, time.Since(start))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleDisks(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	disks, err := s.deps.Devices.ListDisks(r.Context())
	s.deps.Metrics.Observe(metrics.ComponentDevices, err, time.Since(start))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, disks)
}

func (s *Server) handleDiskIDs(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ids, err := s.deps.Devices.ListDiskIDs()
	s.deps.Metrics.Observe(metrics.ComponentDiskIDs, err, time.Since(start))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleSmart(w http.ResponseWriter, r *http.Request) {
	s.serveSmart(w, r, chi.URLParam(r, "name"))
}

func (s *Server) handleSmartByID(w http.ResponseWriter, r *http.Request) {
	name, err := s.deps.Devices.ResolveDiskID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.serveSmart(w, r, name)
}

func (s *Server) serveSmart(w http.ResponseWriter, r *http.Request, name string) {
	start := time.Now()
	smart, err := s.deps.Smart.ReadSmart(r.Context(), name)
	s.deps.Metrics.Observe(metrics.ComponentSmart, err, time.Since(start))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, smart)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	minimum := types.AlertInfo
	if v := r.URL.Query().Get("min_level"); v != "" {
		lvl, err := types.ParseAlertLevel(v)
		if err != nil {
			s.writeError(w, err)
			return
		}
		minimum = lvl
	}
	includeDismissed := false
	if v := r.URL.Query().Get("include_dismissed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: include_dismissed %q", types.ErrInvalidArgument, v))
			return
		}
		includeDismissed = b
	}

	if s.deps.Alerts == nil {
		s.writeError(w, types.ErrDisabled)
		return
	}

	start := time.Now()
	alerts, err := s.deps.Alerts.FetchAlerts(r.Context())
	s.deps.Metrics.Observe(metrics.ComponentAlerts, err, time.Since(start))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, truenas.FilterAlerts(alerts, minimum, includeDismissed))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	report, err := s.deps.Health.Summary(r.Context())
	s.deps.Metrics.Observe(metrics.ComponentSummary, err, time.Since(start))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// writeError keeps the external contract coarse: every failed inspection is
// a 404 carrying the error kind, bad query input is a 400.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := types.Kind(err)
	status := http.StatusNotFound
	if errors.Is(err, types.ErrInvalidArgument) {
		status = http.StatusBadRequest
	}
	s.logger.Debug().Err(err).Str("kind", kind).Msg("request failed")
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": kind})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
