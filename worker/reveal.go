package worker

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"server/conf"
	"server/ipfs"
	"server/log"
	"server/model"
	"server/node"
	"server/service"
)

// Chain the state-changing contract surface used for reveals
type Chain interface {
	SubmitReveal(ctx context.Context, tokenIds []uint64, metaUris []string) (*node.Submission, error)
	WaitConfirmed(ctx context.Context, txHash string) (*node.Receipt, error)
}

// RevealWorker accumulates ready tokens into gas-efficient batches and
// submits one reveal transaction per batch. A single active instance is
// assumed: the operator nonce is fetched per submission, not coordinated.
type RevealWorker struct {
	chain          Chain
	batchSize      int
	topUpWait      time.Duration
	confirmTimeout time.Duration
	owner          string
}

func NewRevealWorker(chain Chain) *RevealWorker {
	return &RevealWorker{
		chain:          chain,
		batchSize:      conf.BatchSize,
		topUpWait:      time.Duration(conf.BatchWait) * time.Second,
		confirmTimeout: time.Duration(conf.ConfirmTimeout) * time.Second,
		owner:          "reveal-" + uuid.NewString(),
	}
}

func (w *RevealWorker) Name() string { return "reveal" }

func (w *RevealWorker) Cycle(ctx context.Context) error {
	tokens, err := service.Claim(w.owner, model.StatusReady, model.StatusReady, w.batchSize)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}
	// a short fixed window bounds latency while letting stragglers join the batch
	if len(tokens) < w.batchSize {
		select {
		case <-ctx.Done():
		case <-time.After(w.topUpWait):
			more, err := service.Claim(w.owner, model.StatusReady, model.StatusReady, w.batchSize-len(tokens))
			if err == nil {
				tokens = append(tokens, more...)
				sort.Slice(tokens, func(i, j int) bool { return tokens[i].TokenId < tokens[j].TokenId })
			}
		}
	}
	return w.submit(ctx, tokens)
}

func (w *RevealWorker) submit(ctx context.Context, tokens []*model.Token) error {
	tokenIds := make([]uint64, len(tokens))
	for i, token := range tokens {
		tokenIds[i] = token.TokenId
	}
	metaUris := make([]string, len(tokens))
	for i, token := range tokens {
		if token.MetaCid == nil {
			// ready guarantees both addresses, a hole here means ledger corruption
			log.Error("ready token without metadata address", zap.Uint64("tokenId", token.TokenId))
			return service.ReleaseTokens(tokenIds)
		}
		metaUris[i] = ipfs.URI(*token.MetaCid)
	}

	sub, err := w.chain.SubmitReveal(ctx, tokenIds, metaUris)
	if err != nil {
		if sub != nil {
			// signed but not accepted by the node, keep the audit trail anyway
			_ = service.CreateBatch(sub.TxHash, tokenIds, metaUris, sub.GasLimit, sub.GasPrice.String())
			_ = service.FailBatch(sub.TxHash, err.Error())
		}
		log.Error("reveal submission failed", zap.Int("batch", len(tokenIds)), zap.Error(err))
		return service.ReleaseTokens(tokenIds)
	}
	if err = service.CreateBatch(sub.TxHash, tokenIds, metaUris, sub.GasLimit, sub.GasPrice.String()); err != nil {
		log.Error("batch audit write failed", zap.String("tx", sub.TxHash), zap.Error(err))
	}
	log.Info("reveal batch submitted",
		zap.String("tx", sub.TxHash),
		zap.Int("batch", len(tokenIds)),
		zap.Uint64("gasLimit", sub.GasLimit))

	waitCtx, cancel := context.WithTimeout(context.Background(), w.confirmTimeout)
	defer cancel()
	receipt, err := w.chain.WaitConfirmed(waitCtx, sub.TxHash)
	if err != nil {
		// the transaction may still land; members stay in ready, and an
		// already-revealed token is simply never claimed again
		log.Warn("reveal confirmation timed out", zap.String("tx", sub.TxHash), zap.Error(err))
		return service.ReleaseTokens(tokenIds)
	}
	if receipt.Reverted {
		log.Warn("reveal batch reverted", zap.String("tx", sub.TxHash), zap.Uint64("block", receipt.BlockNumber))
		if err = service.FailBatch(sub.TxHash, "execution reverted"); err != nil {
			log.Error("batch audit write failed", zap.String("tx", sub.TxHash), zap.Error(err))
		}
		return service.ReleaseTokens(tokenIds)
	}
	if err = service.MarkRevealed(tokenIds, sub.TxHash); err != nil {
		return err
	}
	if err = service.ConfirmBatch(sub.TxHash, receipt.BlockNumber); err != nil {
		log.Error("batch audit write failed", zap.String("tx", sub.TxHash), zap.Error(err))
	}
	log.Info("reveal batch confirmed",
		zap.String("tx", sub.TxHash),
		zap.Int("batch", len(tokenIds)),
		zap.Uint64("block", receipt.BlockNumber))
	return nil
}
