package api

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"
	"server/service"
)

// ChainClient the chain reads the HTTP surface depends on
type ChainClient interface {
	service.ChainReader
	ClaimableBalance(ctx context.Context, account string) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

var chain ChainClient

// SetChain wires the chain client used by the recovery and author endpoints
func SetChain(c ChainClient) {
	chain = c
}

func Mint(e *gin.Engine) {
	e.POST("/mint/events", postEvents)
	e.POST("/mint/recover", postRecover)
}

// postEvents push path: verify the keyed digest over the exact raw body
// before any parsing, then record the carried mint logs.
// Responses: 200 newly recorded, 409 duplicate no-op, 401 bad signature,
// 400 malformed payload, 500 transient and safe to retry.
func postEvents(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusInternalServerError, service.ErrRes{ErrStr: err.Error()})
		return
	}
	if !service.VerifySignature(body, c.GetHeader("X-Signature")) {
		c.JSON(http.StatusUnauthorized, service.ErrRes{ErrStr: "bad signature"})
		return
	}
	var payload service.EventPayload
	if err = json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, service.ErrRes{ErrStr: err.Error()})
		return
	}
	if err = payload.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, service.ErrRes{ErrStr: err.Error()})
		return
	}
	res, err := service.RecordMintEvents(&payload)
	if err != nil {
		c.JSON(http.StatusInternalServerError, service.ErrRes{ErrStr: err.Error()})
		return
	}
	if res.AllDuplicate() {
		c.JSON(http.StatusConflict, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// postRecover operator entry point for the pull path gap scan, accepts an
// optional row cap and a dry-run flag
func postRecover(c *gin.Context) {
	req := struct {
		Limit  int  `json:"limit"`
		DryRun bool `json:"dry_run"`
	}{}
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, service.ErrRes{ErrStr: err.Error()})
		return
	}
	if req.Limit < 0 {
		c.JSON(http.StatusBadRequest, service.ErrRes{ErrStr: "limit must not be negative"})
		return
	}
	res, err := service.RecoverMissing(c.Request.Context(), chain, req.Limit, req.DryRun)
	if err != nil {
		c.JSON(http.StatusInternalServerError, service.ErrRes{ErrStr: err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}
