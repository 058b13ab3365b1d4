package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Rzhvms/CurrencyParser/internal/items"
)

// errorBody is the JSON shape of every non-2xx response.
type errorBody struct {
	Status string `json:"status" example:"error"`
	Error  string `json:"error" example:"item not found"`
}

// writeError maps domain errors onto HTTP statuses. Unknown errors are
// logged and hidden behind a generic message.
func writeError(c *gin.Context, err error) {
	var verr *items.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, errorBody{Status: "error", Error: verr.Error()})
	case errors.Is(err, items.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody{Status: "error", Error: err.Error()})
	case errors.Is(err, items.ErrConflict):
		c.JSON(http.StatusConflict, errorBody{Status: "error", Error: err.Error()})
	default:
		slog.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"err", err,
		)
		c.JSON(http.StatusInternalServerError, errorBody{Status: "error", Error: "internal server error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorBody{Status: "error", Error: msg})
}
