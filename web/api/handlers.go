package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aerobench/sweep-orchestrator/internal/domain"
	"github.com/aerobench/sweep-orchestrator/internal/history"
	"github.com/aerobench/sweep-orchestrator/internal/pool"
	"github.com/aerobench/sweep-orchestrator/internal/resultstore"
)

// PointResponse is the API response for one operating point
type PointResponse struct {
	ID          string  `json:"id"`
	Hierarchy   string  `json:"hierarchy"`
	Case        string  `json:"case"`
	Scenario    string  `json:"scenario"`
	Level       int     `json:"level"`
	AoA         float64 `json:"aoa"`
	CL          float64 `json:"cl"`
	CD          float64 `json:"cd"`
	Status      string  `json:"status"`
	WallTime    string  `json:"wall_time,omitempty"`
	Diagnostics string  `json:"diagnostics,omitempty"`
}

// StatusResponse is the API response for overall sweep status
type StatusResponse struct {
	Root          string `json:"root"`
	Total         int    `json:"total"`
	Converged     int    `json:"converged"`
	Failed        int    `json:"failed"`
	Finished      bool   `json:"finished"`
	TotalWallTime string `json:"total_wall_time,omitempty"`
	Agents        int    `json:"agents_connected"`
	QueuedPoints  int    `json:"queued_points"`
}

// ScenarioResponse aggregates one hierarchy/case/scenario/level group
type ScenarioResponse struct {
	Hierarchy string `json:"hierarchy"`
	Case      string `json:"case"`
	Scenario  string `json:"scenario"`
	Level     int    `json:"level"`
	Converged int    `json:"converged"`
	Failed    int    `json:"failed"`
}

// InvocationResponse is the API response for one history ledger entry
type InvocationResponse struct {
	ID         string  `json:"id"`
	ConfigPath string  `json:"config_path"`
	OutDir     string  `json:"out_dir"`
	Mode       string  `json:"mode"`
	Status     string  `json:"status"`
	StartedAt  *string `json:"started_at,omitempty"`
	FinishedAt *string `json:"finished_at,omitempty"`
	Total      int     `json:"total"`
	Succeeded  int     `json:"succeeded"`
	Failed     int     `json:"failed"`
	Skipped    int     `json:"skipped"`
}

func pointToResponse(sp resultstore.ScannedPoint) PointResponse {
	status := "converged"
	if sp.Record.Failed() {
		status = "failed"
	}
	return PointResponse{
		ID:          sp.ID.String(),
		Hierarchy:   sp.ID.Hierarchy,
		Case:        sp.ID.Case,
		Scenario:    sp.ID.Scenario,
		Level:       sp.ID.Level,
		AoA:         sp.ID.AoA,
		CL:          sp.Record.CL,
		CD:          sp.Record.CD,
		Status:      status,
		WallTime:    sp.Record.WallTime,
		Diagnostics: sp.Record.Diagnostics,
	}
}

func invocationToResponse(inv *domain.Invocation) InvocationResponse {
	resp := InvocationResponse{
		ID:         inv.ID,
		ConfigPath: inv.ConfigPath,
		OutDir:     inv.OutDir,
		Mode:       string(inv.Mode),
		Status:     string(inv.Status),
		Total:      inv.Total,
		Succeeded:  inv.Succeeded,
		Failed:     inv.Failed,
		Skipped:    inv.Skipped,
	}

	if inv.StartedAt != nil {
		t := inv.StartedAt.Format(time.RFC3339)
		resp.StartedAt = &t
	}
	if inv.FinishedAt != nil {
		t := inv.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &t
	}

	return resp
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		points, err := s.store.Scan()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		status := StatusResponse{Root: s.root, Total: len(points)}
		for _, p := range points {
			if p.Record.Failed() {
				status.Failed++
			} else {
				status.Converged++
			}
		}

		// A missing or partial overall summary just means the sweep is not
		// finished, the scan above already answered the rest
		if overall, err := s.store.LoadOverall(); err == nil && overall != nil && overall.EndTime != "" {
			status.Finished = true
			status.TotalWallTime = overall.TotalWallTime
		}

		if s.agents != nil {
			status.Agents = len(s.agents.Agents())
			status.QueuedPoints = s.agents.QueuedCount()
		}

		writeJSON(w, status)
	}
}

func (s *Server) listPointsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		points, err := s.store.Scan()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		caseFilter := r.URL.Query().Get("case")
		statusFilter := r.URL.Query().Get("status")

		responses := make([]PointResponse, 0, len(points))
		for _, p := range points {
			resp := pointToResponse(p)
			if caseFilter != "" && resp.Case != caseFilter {
				continue
			}
			if statusFilter != "" && resp.Status != statusFilter {
				continue
			}
			responses = append(responses, resp)
		}

		writeJSON(w, responses)
	}
}

func (s *Server) listScenariosHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		points, err := s.store.Scan()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		// Scan order is sorted by point ID, so groups come out sorted too
		var responses []ScenarioResponse
		index := make(map[string]int)
		for _, p := range points {
			key := fmt.Sprintf("%s/%s/%s/L%d", p.ID.Hierarchy, p.ID.Case, p.ID.Scenario, p.ID.Level)
			i, ok := index[key]
			if !ok {
				i = len(responses)
				index[key] = i
				responses = append(responses, ScenarioResponse{
					Hierarchy: p.ID.Hierarchy,
					Case:      p.ID.Case,
					Scenario:  p.ID.Scenario,
					Level:     p.ID.Level,
				})
			}
			if p.Record.Failed() {
				responses[i].Failed++
			} else {
				responses[i].Converged++
			}
		}

		if responses == nil {
			responses = []ScenarioResponse{}
		}
		writeJSON(w, responses)
	}
}

func (s *Server) listAgentsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		if s.agents == nil {
			writeJSON(w, []pool.AgentStatus{})
			return
		}

		writeJSON(w, s.agents.Agents())
	}
}

func (s *Server) listHistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		if s.history == nil {
			writeJSON(w, []InvocationResponse{})
			return
		}

		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}

		invs, err := s.history.ListInvocations(history.ListOptions{OutDir: s.root, Limit: limit})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		responses := make([]InvocationResponse, len(invs))
		for i, inv := range invs {
			responses[i] = invocationToResponse(inv)
		}

		writeJSON(w, responses)
	}
}
