package controllers

import (
	"errors"
	"net/http"

	"github.com/osvaldoandrade/mpsflow/internal/services"
	"github.com/osvaldoandrade/mpsflow/pkg/domain"

	"github.com/gin-gonic/gin"
)

const SolveIDHeader = "X-Solve-Id"

type solveMPSController struct {
	svc              services.SolveService
	defaultTimeLimit float64
}

func NewSolveMPSController(svc services.SolveService, defaultTimeLimit float64) *solveMPSController {
	return &solveMPSController{svc: svc, defaultTimeLimit: defaultTimeLimit}
}

func (h *solveMPSController) Handle(c *gin.Context) {
	// absent fields keep these
	req := domain.SolveRequest{TimeLimit: h.defaultTimeLimit, BatchSize: 1}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid body: " + err.Error()})
		return
	}

	out, err := h.svc.Solve(c.Request.Context(), req)
	if err != nil {
		status, detail := solveErrorStatus(err)
		c.JSON(status, gin.H{"detail": detail})
		return
	}
	c.Header(SolveIDHeader, out.ID)
	c.JSON(http.StatusOK, out.Response)
}

func solveErrorStatus(err error) (int, string) {
	var nf *services.ModelNotFoundError
	switch {
	case errors.Is(err, services.ErrInvalidPath):
		return http.StatusBadRequest, "Invalid file path specified."
	case errors.As(err, &nf):
		return http.StatusNotFound, "File not found inside the container at: " + nf.Path
	case errors.Is(err, services.ErrInvalidTimeLimit), errors.Is(err, services.ErrBatchTooLarge):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "An error occurred during solving: " + err.Error()
	}
}
