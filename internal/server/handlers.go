package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/wangqi/tailscan/internal/pipeline"
)

// pipelineRunTimeout bounds a run triggered over HTTP.
const pipelineRunTimeout = 20 * time.Minute

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePipelineRun starts a pipeline run in the background and returns
// immediately; progress is available via status and the websocket stream.
func (s *Server) handlePipelineRun(w http.ResponseWriter, r *http.Request) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), pipelineRunTimeout)
		defer cancel()

		if err := s.pipeline.Run(ctx); err != nil && !errors.Is(err, pipeline.ErrRunInProgress) {
			s.log.Error().Err(err).Msg("Pipeline run failed")
		}
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.tracker.Current())
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	candidates := s.candidates.TopCandidates(limit)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":      len(candidates),
		"candidates": candidates,
	})
}

// handleSystemHealth reports process and host health alongside the index
// database check.
func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		health["memory_used_percent"] = vm.UsedPercent
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		health["cpu_percent"] = percents[0]
	}

	dbStatus := "ok"
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := s.indexDB.QuickCheck(ctx); err != nil {
		dbStatus = "error"
		health["status"] = "degraded"
	}
	health["index_db"] = dbStatus

	status := http.StatusOK
	if health["status"] != "ok" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}
