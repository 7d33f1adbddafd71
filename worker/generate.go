package worker

import (
	"context"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"server/conf"
	"server/faults"
	"server/log"
	"server/model"
	"server/service"
)

// Renderer the external image synthesis contract
type Renderer interface {
	Render(ctx context.Context, prompt string) (string, error)
}

// GenWorker claims detected tokens and renders their author prompts
type GenWorker struct {
	render   Renderer
	limit    int
	parallel int
	fallback string
	owner    string
}

func NewGenWorker(render Renderer) *GenWorker {
	return &GenWorker{
		render:   render,
		limit:    conf.ClaimLimit,
		parallel: conf.GenParallel,
		fallback: conf.FallbackPrompt,
		owner:    "gen-" + uuid.NewString(),
	}
}

func (w *GenWorker) Name() string { return "generate" }

// Cycle claims a page of detected tokens and renders them with bounded
// parallelism; one token's failure never aborts its siblings
func (w *GenWorker) Cycle(ctx context.Context) error {
	tokens, err := service.Claim(w.owner, model.StatusDetected, model.StatusGenerating, w.limit)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}
	log.Debug("claimed tokens for generation", zap.Int("count", len(tokens)))
	sem := make(chan struct{}, w.parallel)
	var wg sync.WaitGroup
	for _, token := range tokens {
		wg.Add(1)
		sem <- struct{}{}
		go func(token *model.Token) {
			defer wg.Done()
			defer func() { <-sem }()
			w.process(ctx, token)
		}(token)
	}
	wg.Wait()
	return nil
}

func (w *GenWorker) process(ctx context.Context, token *model.Token) {
	author, err := service.GetAuthor(token.Author)
	if err != nil {
		w.failed(token, faults.Newf(faults.Permanent, "author %s not found: %v", token.Author, err))
		return
	}
	if l := utf8.RuneCountInString(author.Prompt); l == 0 || l > 1000 {
		w.failed(token, faults.Newf(faults.Permanent, "prompt length %d out of range", l))
		return
	}
	locator, err := w.render.Render(ctx, author.Prompt)
	if err != nil && faults.KindOf(err) == faults.ContentPolicy {
		// one retry with the operator fallback, inside the same attempt slot
		log.Warn("prompt rejected by content policy, retrying with fallback",
			zap.Uint64("tokenId", token.TokenId), zap.Error(err))
		locator, err = w.render.Render(ctx, w.fallback)
		if err != nil && faults.KindOf(err) == faults.ContentPolicy {
			// the fallback itself got rejected, nothing left to try
			err = faults.New(faults.Permanent, err)
		}
	}
	if err != nil {
		w.failed(token, err)
		return
	}
	if err = service.MarkUploading(token.TokenId, locator); err != nil {
		log.Error("generation state write failed", zap.Uint64("tokenId", token.TokenId), zap.Error(err))
		return
	}
	log.Info("image rendered", zap.Uint64("tokenId", token.TokenId))
}

func (w *GenWorker) failed(token *model.Token, err error) {
	permanent := faults.KindOf(err) == faults.Permanent
	log.Warn("generation failed",
		zap.Uint64("tokenId", token.TokenId),
		zap.Int("attempts", token.Attempts),
		zap.Bool("permanent", permanent),
		zap.Error(err))
	if dbErr := service.GenerationFailed(token.TokenId, err.Error(), permanent); dbErr != nil {
		log.Error("generation state write failed", zap.Uint64("tokenId", token.TokenId), zap.Error(dbErr))
	}
}
