package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"server/model"
	"server/service"
)

func Token(e *gin.Engine) {
	e.GET("/token/:id", getToken)
	e.GET("/author/:addr", getAuthor)
}

// getToken single ledger row for operator inspection
func getToken(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, service.ErrRes{ErrStr: err.Error()})
		return
	}
	token, err := service.GetToken(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, service.ErrRes{ErrStr: "token not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, service.ErrRes{ErrStr: err.Error()})
		return
	}
	c.JSON(http.StatusOK, token)
}

// AuthorRes author return parameters
type AuthorRes struct {
	model.Author
	ClaimableBalance string        `json:"claimable_balance"` //unclaimed payout in wei
	Tokens           []model.Token `json:"tokens"`            //tokens minted by this author
}

func getAuthor(c *gin.Context) {
	addr := strings.ToLower(c.Param("addr"))
	if len(addr) != 42 || !strings.HasPrefix(addr, "0x") {
		c.JSON(http.StatusBadRequest, service.ErrRes{ErrStr: "malformed address"})
		return
	}
	author, err := service.GetAuthor(addr)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, service.ErrRes{ErrStr: "author not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, service.ErrRes{ErrStr: err.Error()})
		return
	}
	res := AuthorRes{Author: author, ClaimableBalance: "0"}
	if res.Tokens, err = service.AuthorTokens(addr); err != nil {
		c.JSON(http.StatusInternalServerError, service.ErrRes{ErrStr: err.Error()})
		return
	}
	if chain != nil {
		if balance, err := chain.ClaimableBalance(c.Request.Context(), addr); err == nil {
			res.ClaimableBalance = balance.String()
		}
	}
	c.JSON(http.StatusOK, res)
}
