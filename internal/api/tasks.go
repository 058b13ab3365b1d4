package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Rzhvms/CurrencyParser/internal/poller"
)

// pollerService is the subset of *poller.Poller used by RunTasks.
type pollerService interface {
	RunOnce(ctx context.Context) (poller.Summary, error)
}

type runTasksResponse struct {
	Status  string         `json:"status" example:"ok"`
	Summary poller.Summary `json:"summary"`
}

// RunTasks handles POST /tasks/run: one synchronous poll run. A run may
// outlast the server write timeout, so the deadline is cleared for this
// response.
//
// @Summary  Run one rate poll now
// @Tags     tasks
// @Produce  json
// @Success  202  {object}  runTasksResponse
// @Failure  500  {object}  errorBody
// @Router   /tasks/run [post]
func (h *Handler) RunTasks(c *gin.Context) {
	if h.poller == nil {
		c.JSON(http.StatusInternalServerError, errorBody{Status: "error", Error: "poller not initialized"})
		return
	}
	// Recorders in tests don't support deadlines; the error is harmless there.
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	sum, err := h.poller.RunOnce(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, runTasksResponse{Status: "ok", Summary: sum})
}
