package router

import (
	"github.com/gin-gonic/gin"
	"server/middleware"
	"server/node"
	"server/router/api"
)

func Run(addr string, chain *node.Client) error {
	r := gin.New()
	r.Use(gin.Recovery())
	// Allow cross-domain access, and those with nginx and other proxies can be closed
	r.Use(middleware.Cors())
	// Set up accessible routes
	api.SetChain(chain)
	api.Mint(r)
	api.Token(r)
	api.Health(r)
	return r.Run(addr)
}
