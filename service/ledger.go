package service

import (
	"encoding/json"
	"time"

	"server/conf"
	"server/faults"
	"server/model"
)

// Claim atomically leases up to limit tokens sitting in status from, moving
// them to status to (from and to may be equal), in ascending token id order.
// The lease is a single conditional UPDATE on the claimant column, so two
// concurrent claimants can never hold the same row: whichever statement runs
// second no longer matches `claimed_by IS NULL` for rows the first one took.
func Claim(owner string, from, to model.Status, limit int) ([]*model.Token, error) {
	if limit < 1 {
		return nil, nil
	}
	// millisecond precision survives the DATETIME(3) round trip, so the
	// claim timestamp can select exactly the rows this statement took and
	// never a leftover lease from an earlier cycle
	now := time.Now().Truncate(time.Millisecond)
	res := DB.Exec(`UPDATE tokens SET claimed_by = ?, claimed_at = ?, status = ? WHERE claimed_by IS NULL AND token_id IN (
		SELECT token_id FROM (
			SELECT token_id FROM tokens WHERE status = ? AND claimed_by IS NULL ORDER BY token_id ASC LIMIT ?
		) AS candidates)`, owner, now, to, from, limit)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	var tokens []*model.Token
	err := DB.Where("claimed_by = ? AND claimed_at = ? AND status = ?", owner, now, to).
		Order("token_id ASC").Find(&tokens).Error
	return tokens, err
}

// MarkUploading records the rendered image locator and releases the lease,
// the successful try does not touch the attempt counter
func MarkUploading(tokenId uint64, imageUrl string) error {
	return DB.Model(&model.Token{}).Where("token_id = ? AND status = ?", tokenId, model.StatusGenerating).
		Updates(map[string]interface{}{
			"status":     model.StatusUploading,
			"image_url":  imageUrl,
			"last_error": nil,
			"claimed_by": nil,
			"claimed_at": nil,
		}).Error
}

// GenerationFailed books one failed render. Transient failures return the
// token to detected for a later cycle; a permanent failure or an exhausted
// attempt budget moves it to failed with the reason recorded.
func GenerationFailed(tokenId uint64, reason string, permanent bool) error {
	return stageFailed(tokenId, model.StatusGenerating, model.StatusDetected, reason, permanent)
}

// UploadFailed books one failed pin cycle, the token stays claimable in
// uploading because pinning identical bytes is idempotent
func UploadFailed(tokenId uint64, reason string, permanent bool) error {
	return stageFailed(tokenId, model.StatusUploading, model.StatusUploading, reason, permanent)
}

func stageFailed(tokenId uint64, current, fallback model.Status, reason string, permanent bool) error {
	var token model.Token
	if err := DB.Where("token_id = ?", tokenId).First(&token).Error; err != nil {
		return err
	}
	attempts := token.Attempts
	status := fallback
	if permanent {
		status = model.StatusFailed
	} else {
		attempts++
		if attempts >= conf.MaxAttempts {
			status = model.StatusFailed
		}
	}
	msg := faults.Truncate(reason, 512)
	return DB.Model(&model.Token{}).Where("token_id = ? AND status = ?", tokenId, current).
		Updates(map[string]interface{}{
			"status":     status,
			"attempts":   attempts,
			"last_error": msg,
			"claimed_by": nil,
			"claimed_at": nil,
		}).Error
}

// MarkReady records both content addresses in one write, a token is never
// visible in ready with only one of them set
func MarkReady(tokenId uint64, imageCid, metaCid string) error {
	return DB.Model(&model.Token{}).Where("token_id = ? AND status = ?", tokenId, model.StatusUploading).
		Updates(map[string]interface{}{
			"status":     model.StatusReady,
			"image_cid":  imageCid,
			"meta_cid":   metaCid,
			"last_error": nil,
			"claimed_by": nil,
			"claimed_at": nil,
		}).Error
}

// MarkRevealed transitions every batch member together with the shared
// transaction hash, mirroring the atomicity of the chain call
func MarkRevealed(tokenIds []uint64, txHash string) error {
	return DB.Model(&model.Token{}).Where("token_id IN ? AND status = ?", tokenIds, model.StatusReady).
		Updates(map[string]interface{}{
			"status":     model.StatusRevealed,
			"reveal_tx":  txHash,
			"claimed_by": nil,
			"claimed_at": nil,
		}).Error
}

// ReleaseTokens drops the lease without changing status, used when a reveal
// submission times out or reverts and the members must stay claimable
func ReleaseTokens(tokenIds []uint64) error {
	if len(tokenIds) == 0 {
		return nil
	}
	return DB.Model(&model.Token{}).Where("token_id IN ?", tokenIds).
		Updates(map[string]interface{}{"claimed_by": nil, "claimed_at": nil}).Error
}

// RecoverStale resets orphaned work on process start: tokens stuck in
// generating fall back to detected, and every leftover lease is cleared so
// the rows re-enter the claimable pool. ready needs no reset, it is already
// a stable rest state.
func RecoverStale() (int64, error) {
	res := DB.Model(&model.Token{}).Where("status = ?", model.StatusGenerating).
		Updates(map[string]interface{}{
			"status":     model.StatusDetected,
			"claimed_by": nil,
			"claimed_at": nil,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	reset := res.RowsAffected
	err := DB.Model(&model.Token{}).Where("claimed_by IS NOT NULL").
		Updates(map[string]interface{}{"claimed_by": nil, "claimed_at": nil}).Error
	return reset, err
}

// GetToken single ledger row
func GetToken(tokenId uint64) (token model.Token, err error) {
	err = DB.Where("token_id = ?", tokenId).First(&token).Error
	return
}

// GetAuthor author record by wallet address
func GetAuthor(address string) (author model.Author, err error) {
	err = DB.Where("address = ?", address).First(&author).Error
	return
}

// RecordUpload appends one pin attempt to the audit trail
func RecordUpload(tokenId uint64, asset string, attempt int, cid *string, pinErr error) {
	record := model.UploadRecord{
		TokenId:   tokenId,
		Asset:     asset,
		Ok:        pinErr == nil,
		Attempt:   attempt,
		Cid:       cid,
		CreatedAt: time.Now(),
	}
	if pinErr != nil {
		msg := faults.Truncate(pinErr.Error(), 512)
		record.Error = &msg
	}
	if err := DB.Create(&record).Error; err != nil {
		// the audit row is best-effort, the ledger row itself carries the state
		return
	}
}

// CreateBatch appends the audit row for one submitted reveal transaction
func CreateBatch(txHash string, tokenIds []uint64, metaUris []string, gasLimit uint64, gasPrice string) error {
	ids, _ := json.Marshal(tokenIds)
	uris, _ := json.Marshal(metaUris)
	return DB.Create(&model.RevealBatch{
		TxHash:    txHash,
		TokenIds:  string(ids),
		MetaUris:  string(uris),
		Status:    model.BatchPending,
		GasLimit:  gasLimit,
		GasPrice:  gasPrice,
		CreatedAt: time.Now(),
	}).Error
}

// ConfirmBatch marks the audit row confirmed at the inclusion block
func ConfirmBatch(txHash string, blockNumber uint64) error {
	return DB.Model(&model.RevealBatch{}).Where("tx_hash = ?", txHash).
		Updates(map[string]interface{}{"status": model.BatchConfirmed, "block_number": blockNumber}).Error
}

// FailBatch records a revert or send failure, member tokens are untouched
func FailBatch(txHash string, reason string) error {
	msg := faults.Truncate(reason, 512)
	return DB.Model(&model.RevealBatch{}).Where("tx_hash = ?", txHash).
		Updates(map[string]interface{}{"status": model.BatchFailed, "error": msg}).Error
}
