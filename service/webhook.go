package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"server/conf"
	"server/model"
)

// MintLog one chain log entry carried by the webhook payload
type MintLog struct {
	TxHash   string `json:"tx_hash" binding:"required"`
	LogIndex uint   `json:"log_index"`
	TokenId  uint64 `json:"token_id" binding:"required"`
	Minter   string `json:"minter" binding:"required"`
	Prompt   string `json:"prompt"`
	Removed  bool   `json:"removed"` //log invalidated by a chain reorganization
}

// EventPayload signed webhook body
type EventPayload struct {
	Events []MintLog `json:"events" binding:"required"`
}

// Validate rejects malformed payloads before any ledger write
func (p *EventPayload) Validate() error {
	if len(p.Events) == 0 {
		return errors.New("empty event list")
	}
	for i := range p.Events {
		ev := &p.Events[i]
		if len(ev.TxHash) != 66 || !strings.HasPrefix(ev.TxHash, "0x") {
			return fmt.Errorf("event %d: malformed tx hash", i)
		}
		if len(ev.Minter) != 42 || !strings.HasPrefix(ev.Minter, "0x") {
			return fmt.Errorf("event %d: malformed minter address", i)
		}
		if ev.TokenId == 0 {
			return fmt.Errorf("event %d: missing token id", i)
		}
		// the bound is in characters, multibyte prompts are narrower in runes than bytes
		if utf8.RuneCountInString(ev.Prompt) > 1000 {
			return fmt.Errorf("event %d: prompt exceeds 1000 characters", i)
		}
	}
	return nil
}

// VerifySignature checks the keyed digest computed over the exact raw payload
// bytes, before any parsing happens
func VerifySignature(body []byte, sigHex string) bool {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(conf.WebhookKey))
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}

// RecordResult outcome of one webhook delivery
type RecordResult struct {
	Recorded   int `json:"recorded"`
	Duplicates int `json:"duplicates"`
	Discarded  int `json:"discarded"` //reorg-removed entries
}

// AllDuplicate true when the delivery carried events and every one was
// already recorded, the redelivery case answered with a conflict
func (r RecordResult) AllDuplicate() bool {
	return r.Recorded == 0 && r.Duplicates > 0
}

// RecordMintEvents inserts accepted events and their detected tokens.
// Redelivered (tx hash, log index) pairs are skipped; a token id already
// inserted by the recovery path is an expected no-op, not an error.
func RecordMintEvents(payload *EventPayload) (res RecordResult, err error) {
	for i := range payload.Events {
		ev := &payload.Events[i]
		if ev.Removed {
			res.Discarded++
			continue
		}
		err = DB.Transaction(func(t *gorm.DB) error {
			if err := t.Create(&model.MintEvent{
				TxHash:     strings.ToLower(ev.TxHash),
				LogIndex:   ev.LogIndex,
				TokenId:    ev.TokenId,
				Minter:     strings.ToLower(ev.Minter),
				ReceivedAt: time.Now(),
			}).Error; err != nil {
				return err
			}
			_, err := insertDetected(t, ev.TokenId, strings.ToLower(ev.Minter), ev.Prompt)
			return err
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			res.Duplicates++
			err = nil
			continue
		}
		if err != nil {
			return
		}
		res.Recorded++
	}
	return
}

// insertDetected resolves-or-creates the author and inserts the token row in
// detected state. The losing side of a push/pull race hits the token id
// uniqueness constraint and is swallowed by the conflict clause; created
// reports whether this call actually inserted the row.
func insertDetected(t *gorm.DB, tokenId uint64, author, prompt string) (created bool, err error) {
	if prompt == "" {
		prompt = conf.FallbackPrompt
	}
	if err = t.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.Author{
		Address:   author,
		Prompt:    prompt,
		CreatedAt: time.Now(),
	}).Error; err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return
	}
	res := t.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.Token{
		TokenId:    tokenId,
		Status:     model.StatusDetected,
		Author:     author,
		DetectedAt: time.Now(),
	})
	return res.RowsAffected > 0, res.Error
}
