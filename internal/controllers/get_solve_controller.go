package controllers

import (
	"errors"
	"net/http"

	"github.com/osvaldoandrade/mpsflow/internal/repository"
	"github.com/osvaldoandrade/mpsflow/internal/services"

	"github.com/gin-gonic/gin"
)

type getSolveController struct{ svc services.SolveService }

func NewGetSolveController(s services.SolveService) *getSolveController {
	return &getSolveController{svc: s}
}

func (h *getSolveController) Handle(c *gin.Context) {
	rec, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, repository.ErrSolveNotFound), errors.Is(err, services.ErrHistoryDisabled):
		c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}
