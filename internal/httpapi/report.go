package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/ent0n29/ducktodo/internal/report"
	"github.com/ent0n29/ducktodo/internal/settings"
	"github.com/ent0n29/ducktodo/internal/tasks"
)

type generateReportRequest struct {
	LLMConfigID string `json:"llm_config_id"`
	// Absent or null means "aggregate today"; an explicit list is used as-is.
	TodayFinishTaskList []report.TodoEntry `json:"today_finish_task_list"`
}

type toolConfigRequest struct {
	LLMConfigID string `json:"llm_config_id"`
}

func (s *Server) handleTodayCompleted(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	day, err := tasks.ParseDate(r.URL.Query().Get("target_date"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "target_date must be YYYY-MM-DD")
		return
	}

	entries, err := s.svc.Aggregator.AggregateCompleted(r.Context(), userID, day)
	if err != nil {
		log.Printf("aggregate completed tasks failed: user=%s err=%v", userID, err)
		respondFailure(w, err)
		return
	}
	respondOK(w, "获取今日已完成任务成功", entries)
}

func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", s.cfg.ReportTodoLimit)
	if err != nil || limit <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
		return
	}
	if limit > 100 {
		limit = 100
	}
	daysAhead, err := queryInt(r, "days_ahead", s.cfg.ReportTodoDaysAhead)
	if err != nil || daysAhead < 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "days_ahead must be a non-negative integer")
		return
	}

	entries, err := s.svc.Ranker.SelectUpcoming(r.Context(), userID, limit, daysAhead)
	if err != nil {
		log.Printf("select upcoming tasks failed: user=%s err=%v", userID, err)
		respondFailure(w, err)
		return
	}
	respondOK(w, "获取待办任务成功", entries)
}

func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req generateReportRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	configID := strings.TrimSpace(req.LLMConfigID)
	if configID == "" && s.svc.ToolConfigs != nil {
		// Fall back to the config bound through the tool settings.
		bound, err := s.svc.ToolConfigs.Settings(r.Context(), userID)
		switch {
		case err == nil:
			configID = bound.LLMConfigID
		case !errors.Is(err, settings.ErrNotFound):
			log.Printf("load %s tool config failed: user=%s err=%v", report.ToolName, userID, err)
		}
	}

	rep, err := s.svc.Synthesizer.Generate(r.Context(), report.GenerateRequest{
		UserID:        userID,
		LLMConfigID:   configID,
		TodayFinished: req.TodayFinishTaskList,
	})
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondOK(w, "生成日报成功", rep)
}

func (s *Server) handleCreateToolConfig(w http.ResponseWriter, r *http.Request) {
	s.saveToolConfig(w, r, s.svc.ToolConfigs.Create)
}

func (s *Server) handleUpdateToolConfig(w http.ResponseWriter, r *http.Request) {
	s.saveToolConfig(w, r, s.svc.ToolConfigs.Update)
}

func (s *Server) saveToolConfig(w http.ResponseWriter, r *http.Request, save func(ctx context.Context, userID, llmConfigID string) (string, error)) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req toolConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "llm_config_id is required")
		return
	}
	if strings.TrimSpace(req.LLMConfigID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "llm_config_id is required")
		return
	}

	id, err := save(r.Context(), userID, req.LLMConfigID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondOK(w, "保存日报配置成功", map[string]string{"id": id})
}

func (s *Server) handleGetToolConfig(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	rec, err := s.svc.ToolConfigs.Get(r.Context(), userID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondOK(w, "获取日报配置成功", rec)
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
