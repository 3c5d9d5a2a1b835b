package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const (
	pathAlertState    = "/api/v1/alert/state"
	pathAlertDismiss  = "/api/v1/alert/dismiss"
	pathHistory       = "/api/v1/alerts/history"
	pathHistoryEntry  = "/api/v1/alerts/history/"
	pathHistoryExport = "/api/v1/alerts/history.xlsx"
	pathStartActivity = "/api/v1/peers/start-activity"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口（用于 promhttp 等）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterAlertRoutes 注册报警相关路由
func (r *Router) RegisterAlertRoutes(a *AlertHandler) {
	r.Handle(pathAlertState, method(http.MethodGet, a.GetState))
	r.Handle(pathAlertDismiss, method(http.MethodPost, a.Dismiss))
	r.Handle(pathHistory, method(http.MethodGet, a.ListHistory))
	r.Handle(pathHistoryExport, method(http.MethodGet, a.ExportHistory))

	// history/{timestamp}
	r.Handle(pathHistoryEntry, func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ts := strings.TrimPrefix(req.URL.Path, pathHistoryEntry)
		if ts == "" || strings.Contains(ts, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		a.DeleteHistory(w, req, ts)
	})

	r.Handle(pathStartActivity, method(http.MethodPost, a.StartActivity))
}

// RegisterHealthRoute 健康检查
func (r *Router) RegisterHealthRoute() {
	r.Handle("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Ok("healthy"))
	})
}

func method(m string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != m {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}
