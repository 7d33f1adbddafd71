package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"server/conf"
	"server/ipfs"
	"server/log"
	"server/node"
	"server/render"
	"server/router"
	"server/service"
	"server/worker"
)

// main boots the reveal pipeline: ledger, chain client, the three workers
// and the operator HTTP surface
func main() {
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		log.SetLevel(level)
	}
	defer log.Sync()

	service.Init()
	chain, err := node.Dial(conf.ChainUrl)
	if err != nil {
		log.Fatal("chain dial failed", zap.String("url", conf.ChainUrl), zap.Error(err))
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	chainId, err := chain.ChainId(ctx)
	if err != nil {
		log.Fatal("chain id read failed", zap.Error(err))
	}
	if chainId.Int64() != conf.ChainId {
		log.Fatal("stored configuration and chain node do not match",
			zap.Int64("conf", conf.ChainId), zap.String("node", chainId.String()))
	}
	log.Info("reveal pipeline starting",
		zap.Int64("chainId", conf.ChainId),
		zap.String("contract", conf.Contract.Hex()),
		zap.String("operator", conf.OperatorAddr.Hex()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx, conf.PollInterval(),
			worker.NewGenWorker(render.NewClient(conf.RenderUrl, conf.RenderKey, conf.RenderModel)),
			worker.NewUploadWorker(ipfs.NewClient(conf.IpfsServer)),
			worker.NewRevealWorker(chain),
		)
	}()
	go func() {
		if err := router.Run(conf.ServerAddr, chain); err != nil {
			log.Error("server failed to run", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received, letting claimed work finish")
	<-done
}
