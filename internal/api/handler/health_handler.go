package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// Health handles GET /health
// Pings every registered backing service; any failure reports 503.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.healthChecks))
	for name := range h.healthChecks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	checks := make(gin.H, len(names))
	for _, name := range names {
		if err := h.healthChecks[name](ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}

	resp := gin.H{
		"status":  overall,
		"service": "alliance-chat",
		"checks":  checks,
	}
	if len(h.healthDetail) > 0 {
		details := make(gin.H, len(h.healthDetail))
		for name, detail := range h.healthDetail {
			details[name] = detail()
		}
		resp["details"] = details
	}

	c.JSON(status, resp)
}
