package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aura-linux/forge/internal/pkg/response"
)

// DashboardHandler serves /api/dashboard.
type DashboardHandler struct {
	pipelines PipelineService
}

// NewDashboardHandler creates the dashboard handler.
func NewDashboardHandler(pipelines PipelineService) *DashboardHandler {
	return &DashboardHandler{pipelines: pipelines}
}

// Routes returns the dashboard route tree.
func (h *DashboardHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.Status)
	return r
}

// Status returns aggregate job counters by status and arch.
func (h *DashboardHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.pipelines.Dashboard(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, status)
}
