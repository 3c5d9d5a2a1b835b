package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"helga/helga-common/models"
	"helga/helga-common/peerlink"
	"helga/helga-companion/internal/heartbeat"
	"helga/helga-companion/internal/repository"

	"go.uber.org/zap"
)

// AlertMachine 报警状态机
type AlertMachine interface {
	State() models.AlertState
	Dismiss() bool
}

// PeerStatus 主机心跳状态
type PeerStatus interface {
	Status() heartbeat.Status
}

// AlertHandler 报警展示 API
type AlertHandler struct {
	Machine AlertMachine
	Peer    PeerStatus
	Log     repository.EventLog
	Link    peerlink.Link
	Logger  *zap.Logger

	Timeout time.Duration
}

func (h *AlertHandler) ctx(req *http.Request) (context.Context, context.CancelFunc) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(req.Context(), timeout)
}

type stateResponse struct {
	Alert models.AlertState `json:"alert"`
	Peer  heartbeat.Status  `json:"peer"`
}

// GetState GET /api/v1/alert/state
func (h *AlertHandler) GetState(w http.ResponseWriter, _ *http.Request) {
	resp := stateResponse{Alert: h.Machine.State()}
	if h.Peer != nil {
		resp.Peer = h.Peer.Status()
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}

// Dismiss POST /api/v1/alert/dismiss
func (h *AlertHandler) Dismiss(w http.ResponseWriter, _ *http.Request) {
	dismissed := h.Machine.Dismiss()
	writeJSON(w, http.StatusOK, Ok(map[string]any{"dismissed": dismissed}))
}

// ListHistory GET /api/v1/alerts/history?limit=N
// 按时间倒序；limit <= 0 表示全部
func (h *AlertHandler) ListHistory(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := h.ctx(req)
	defer cancel()

	entries, err := h.Log.QueryAll(ctx)
	if err != nil {
		h.Logger.Error("Failed to query alert history", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to query alert history"))
		return
	}
	total := len(entries)
	if limit := parseInt(req.URL.Query().Get("limit"), 0); limit > 0 && limit < total {
		entries = entries[:limit]
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": entries,
		"total": total,
	}))
}

// DeleteHistory DELETE /api/v1/alerts/history/{timestamp}
func (h *AlertHandler) DeleteHistory(w http.ResponseWriter, req *http.Request, timestamp string) {
	ctx, cancel := h.ctx(req)
	defer cancel()

	if err := h.Log.Delete(ctx, timestamp); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, Fail("alert log entry not found"))
			return
		}
		h.Logger.Error("Failed to delete alert log entry", zap.String("timestamp", timestamp), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to delete alert log entry"))
		return
	}
	h.Logger.Info("Alert log entry deleted", zap.String("timestamp", timestamp))
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

// ExportHistory GET /api/v1/alerts/history.xlsx
func (h *AlertHandler) ExportHistory(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := h.ctx(req)
	defer cancel()

	entries, err := h.Log.QueryAll(ctx)
	if err != nil {
		h.Logger.Error("Failed to query alert history", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to query alert history"))
		return
	}
	data, err := GenerateHistoryExport(entries)
	if err != nil {
		h.Logger.Error("Failed to generate alert history export", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to generate export"))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=alert-history.xlsx")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// StartActivity POST /api/v1/peers/start-activity
// 向所有已连接对端广播；部分失败时仍返回成功数量，一个都没有送达时返回 502
func (h *AlertHandler) StartActivity(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := h.ctx(req)
	defer cancel()

	sent, err := peerlink.Broadcast(ctx, h.Link, peerlink.PathStartActivity, nil, h.Logger)
	resp := map[string]any{"sent": sent}
	if err != nil {
		resp["error"] = err.Error()
	}
	if sent == 0 {
		h.Logger.Warn("Start activity reached no peer", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, Result[any]{Code: ResultError, Type: "error", Message: "no peer reached", Result: resp})
		return
	}
	h.Logger.Info("Start activity broadcast", zap.Int("sent", sent))
	writeJSON(w, http.StatusOK, Ok(resp))
}
