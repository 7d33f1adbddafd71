package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"server/model"
	"server/service"
)

func Health(e *gin.Engine) {
	e.GET("/health", getHealth)
}

// HealthRes health return parameters
type HealthRes struct {
	Status      string                 `json:"status"`
	BlockNumber uint64                 `json:"block_number,omitempty"` //chain head, 0 when unreachable
	Tokens      map[model.Status]int64 `json:"tokens"`                 //ledger rows per lifecycle state
}

func getHealth(c *gin.Context) {
	res := HealthRes{Status: "ok"}
	counts, err := service.StatusCounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, service.ErrRes{ErrStr: err.Error()})
		return
	}
	res.Tokens = counts
	if chain != nil {
		if number, err := chain.BlockNumber(c.Request.Context()); err == nil {
			res.BlockNumber = number
		} else {
			res.Status = "degraded"
		}
	}
	c.JSON(http.StatusOK, res)
}
