package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"server/log"
	"server/model"
)

// ChainReader the contract reads the recovery scan depends on
type ChainReader interface {
	// MintCounter the monotonic counter of assigned ids, the next id to be bound
	MintCounter(ctx context.Context) (uint64, error)
	// MinterOf the author address bound to an assigned token id
	MinterOf(ctx context.Context, tokenId uint64) (string, error)
}

// RecoveryResult structured outcome of one gap scan
type RecoveryResult struct {
	Total             uint64 `json:"total_on_chain"`
	Known             int    `json:"already_known"`
	Missing           int    `json:"missing"`
	Recovered         int    `json:"recovered"`
	SkippedDuplicates int    `json:"skipped_duplicates"`
	Errors            int    `json:"errors"`
	DryRun            bool   `json:"dry_run"`
}

// RecoverMissing compares the contract's assigned-id counter against the
// ledger and inserts a detected token for every id the push path missed.
// limit caps the number of missing ids processed (0 means no cap); dryRun
// performs the same reads but discards writes.
func RecoverMissing(ctx context.Context, chain ChainReader, limit int, dryRun bool) (res RecoveryResult, err error) {
	counter, err := chain.MintCounter(ctx)
	if err != nil {
		return res, fmt.Errorf("mint counter read failed: %w", err)
	}
	res.DryRun = dryRun
	if counter <= 1 {
		return res, nil
	}
	// ids run from 1 up to but excluding the counter
	res.Total = counter - 1

	var knownIds []uint64
	if err = DB.Model(&model.Token{}).Where("token_id < ?", counter).
		Order("token_id ASC").Pluck("token_id", &knownIds).Error; err != nil {
		return
	}
	known := make(map[uint64]bool, len(knownIds))
	for _, id := range knownIds {
		known[id] = true
	}
	res.Known = len(knownIds)

	for id := uint64(1); id < counter; id++ {
		if known[id] {
			continue
		}
		if limit > 0 && res.Missing >= limit {
			break
		}
		res.Missing++
		author, err := chain.MinterOf(ctx, id)
		if err != nil {
			log.Warn("recovery: author read failed", zap.Uint64("tokenId", id), zap.Error(err))
			res.Errors++
			continue
		}
		if dryRun {
			continue
		}
		inserted := false
		err = DB.Transaction(func(t *gorm.DB) error {
			var err error
			inserted, err = insertDetected(t, id, strings.ToLower(author), "")
			return err
		})
		if err != nil {
			log.Warn("recovery: insert failed", zap.Uint64("tokenId", id), zap.Error(err))
			res.Errors++
			continue
		}
		if inserted {
			res.Recovered++
		} else {
			res.SkippedDuplicates++
		}
	}
	log.Info("recovery scan finished",
		zap.Uint64("total", res.Total), zap.Int("known", res.Known),
		zap.Int("missing", res.Missing), zap.Int("recovered", res.Recovered),
		zap.Int("skipped", res.SkippedDuplicates), zap.Int("errors", res.Errors),
		zap.Bool("dryRun", dryRun))
	return res, nil
}
