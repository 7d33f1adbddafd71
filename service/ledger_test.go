package service

import (
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"server/conf"
	"server/model"
)

func initTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err = model.Migrate(db); err != nil {
		t.Fatal(err)
	}
	DB = db
}

func seedTokens(t *testing.T, status model.Status, ids ...uint64) {
	t.Helper()
	for _, id := range ids {
		token := model.Token{TokenId: id, Status: status, Author: "0xabc", DetectedAt: time.Now()}
		if status == model.StatusReady {
			image, meta := "bafyimage", "bafymeta"
			token.ImageCid, token.MetaCid = &image, &meta
		}
		if err := DB.Create(&token).Error; err != nil {
			t.Fatal(err)
		}
	}
}

func mustToken(t *testing.T, id uint64) model.Token {
	t.Helper()
	token, err := GetToken(id)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestClaimNoOverlap(t *testing.T) {
	initTestDB(t)
	seedTokens(t, model.StatusDetected, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)

	first, err := Claim("owner-1", model.StatusDetected, model.StatusGenerating, 6)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Claim("owner-2", model.StatusDetected, model.StatusGenerating, 6)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 6 || len(second) != 4 {
		t.Fatalf("claimed %d and %d tokens, want 6 and 4", len(first), len(second))
	}
	seen := map[uint64]bool{}
	for _, token := range append(first, second...) {
		if seen[token.TokenId] {
			t.Fatalf("token %d claimed twice", token.TokenId)
		}
		seen[token.TokenId] = true
	}
	for i, token := range first {
		if token.TokenId != uint64(i+1) {
			t.Fatalf("claim order not ascending: got %d at position %d", token.TokenId, i)
		}
	}
}

func TestClaimSkipsLeasedRows(t *testing.T) {
	initTestDB(t)
	seedTokens(t, model.StatusReady, 1, 2, 3)
	if _, err := Claim("reveal-a", model.StatusReady, model.StatusReady, 2); err != nil {
		t.Fatal(err)
	}
	rest, err := Claim("reveal-b", model.StatusReady, model.StatusReady, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 1 || rest[0].TokenId != 3 {
		t.Fatalf("second claimant got %d tokens, want only token 3", len(rest))
	}
}

func TestClaimExcludesEarlierLeases(t *testing.T) {
	initTestDB(t)
	// token 1 is a leftover from an earlier cycle of the same owner whose
	// transition write never happened, it must not ride along with a new claim
	owner := "gen"
	stale := time.Now().Add(-time.Minute).Truncate(time.Millisecond)
	if err := DB.Create(&model.Token{
		TokenId: 1, Status: model.StatusGenerating, Author: "0xabc",
		ClaimedBy: &owner, ClaimedAt: &stale, DetectedAt: time.Now(),
	}).Error; err != nil {
		t.Fatal(err)
	}
	seedTokens(t, model.StatusDetected, 2, 3)

	tokens, err := Claim(owner, model.StatusDetected, model.StatusGenerating, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(tokens) != 2 {
		t.Fatalf("claimed %d tokens, want 2", len(tokens))
	}
	for _, token := range tokens {
		if token.TokenId == 1 {
			t.Fatal("stale leased row returned by a fresh claim")
		}
	}
}

func TestGenerationRetryAccounting(t *testing.T) {
	initTestDB(t)
	seedTokens(t, model.StatusDetected, 1)

	// attempts 1 and 2 fail transiently, attempt 3 succeeds
	for i := 0; i < 2; i++ {
		tokens, err := Claim("gen", model.StatusDetected, model.StatusGenerating, 10)
		if err != nil || len(tokens) != 1 {
			t.Fatalf("claim %d: %v, %d tokens", i, err, len(tokens))
		}
		if err = GenerationFailed(1, "renderer 503", false); err != nil {
			t.Fatal(err)
		}
	}
	token := mustToken(t, 1)
	if token.Status != model.StatusDetected || token.Attempts != 2 {
		t.Fatalf("got status %s attempts %d, want detected/2", token.Status, token.Attempts)
	}

	if _, err := Claim("gen", model.StatusDetected, model.StatusGenerating, 10); err != nil {
		t.Fatal(err)
	}
	if err := MarkUploading(1, "https://cdn.example/render/1.png"); err != nil {
		t.Fatal(err)
	}
	token = mustToken(t, 1)
	if token.Status != model.StatusUploading {
		t.Fatalf("got status %s, want uploading", token.Status)
	}
	// the successful try does not increment the failure counter
	if token.Attempts != 2 {
		t.Fatalf("got attempts %d, want 2", token.Attempts)
	}
	if token.ImageUrl == nil || *token.ImageUrl == "" {
		t.Fatal("image locator not recorded")
	}
	if token.ClaimedBy != nil {
		t.Fatal("lease not released after transition")
	}
}

func TestAttemptBudgetExhausted(t *testing.T) {
	initTestDB(t)
	seedTokens(t, model.StatusDetected, 1)
	for i := 0; i < conf.MaxAttempts; i++ {
		if _, err := Claim("gen", model.StatusDetected, model.StatusGenerating, 10); err != nil {
			t.Fatal(err)
		}
		if err := GenerationFailed(1, "renderer 503", false); err != nil {
			t.Fatal(err)
		}
	}
	token := mustToken(t, 1)
	if token.Status != model.StatusFailed {
		t.Fatalf("got status %s, want failed after %d attempts", token.Status, conf.MaxAttempts)
	}
	if token.LastError == nil || *token.LastError == "" {
		t.Fatal("last error not recorded")
	}
}

func TestPermanentFailureSkipsRetry(t *testing.T) {
	initTestDB(t)
	seedTokens(t, model.StatusDetected, 1)
	if _, err := Claim("gen", model.StatusDetected, model.StatusGenerating, 10); err != nil {
		t.Fatal(err)
	}
	if err := GenerationFailed(1, "renderer 401 bad credential", true); err != nil {
		t.Fatal(err)
	}
	token := mustToken(t, 1)
	if token.Status != model.StatusFailed || token.Attempts != 0 {
		t.Fatalf("got status %s attempts %d, want failed/0", token.Status, token.Attempts)
	}
}

func TestMarkReadySetsBothAddresses(t *testing.T) {
	initTestDB(t)
	seedTokens(t, model.StatusUploading, 1)
	if err := MarkReady(1, "bafyimage", "bafymeta"); err != nil {
		t.Fatal(err)
	}
	token := mustToken(t, 1)
	if token.Status != model.StatusReady {
		t.Fatalf("got status %s, want ready", token.Status)
	}
	// status == ready implies both content addresses are set
	if token.ImageCid == nil || token.MetaCid == nil {
		t.Fatal("ready token missing a content address")
	}
}

func TestMarkRevealedSharesTransaction(t *testing.T) {
	initTestDB(t)
	seedTokens(t, model.StatusReady, 1, 2, 3)
	if _, err := Claim("reveal", model.StatusReady, model.StatusReady, 50); err != nil {
		t.Fatal(err)
	}
	txHash := "0x" + strings.Repeat("ab", 32)
	if err := MarkRevealed([]uint64{1, 2, 3}, txHash); err != nil {
		t.Fatal(err)
	}
	for id := uint64(1); id <= 3; id++ {
		token := mustToken(t, id)
		if token.Status != model.StatusRevealed {
			t.Fatalf("token %d status %s, want revealed", id, token.Status)
		}
		// status == revealed implies a non-null transaction identifier
		if token.RevealTx == nil || *token.RevealTx != txHash {
			t.Fatalf("token %d does not share the batch transaction", id)
		}
	}
}

func TestReleaseTokensKeepsStatus(t *testing.T) {
	initTestDB(t)
	seedTokens(t, model.StatusReady, 1, 2)
	if _, err := Claim("reveal", model.StatusReady, model.StatusReady, 50); err != nil {
		t.Fatal(err)
	}
	if err := ReleaseTokens([]uint64{1, 2}); err != nil {
		t.Fatal(err)
	}
	for id := uint64(1); id <= 2; id++ {
		token := mustToken(t, id)
		if token.Status != model.StatusReady || token.ClaimedBy != nil {
			t.Fatalf("token %d not back in the claimable pool", id)
		}
	}
	// a released batch is claimable again in full
	again, err := Claim("reveal-2", model.StatusReady, model.StatusReady, 50)
	if err != nil || len(again) != 2 {
		t.Fatalf("re-claim got %d tokens, want 2 (err %v)", len(again), err)
	}
}

func TestRecoverStale(t *testing.T) {
	initTestDB(t)
	seedTokens(t, model.StatusDetected, 1)
	seedTokens(t, model.StatusUploading, 2)
	if _, err := Claim("gen", model.StatusDetected, model.StatusGenerating, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := Claim("upload", model.StatusUploading, model.StatusUploading, 10); err != nil {
		t.Fatal(err)
	}

	reset, err := RecoverStale()
	if err != nil {
		t.Fatal(err)
	}
	if reset != 1 {
		t.Fatalf("reset %d tokens, want 1", reset)
	}
	token := mustToken(t, 1)
	if token.Status != model.StatusDetected || token.ClaimedBy != nil {
		t.Fatalf("generating token not reset: status %s", token.Status)
	}
	token = mustToken(t, 2)
	if token.Status != model.StatusUploading || token.ClaimedBy != nil {
		t.Fatalf("uploading token should keep status and lose lease: status %s", token.Status)
	}
}

func TestBatchAudit(t *testing.T) {
	initTestDB(t)
	if err := CreateBatch("0xaa", []uint64{1, 2}, []string{"ipfs://a", "ipfs://b"}, 210000, "1200000000"); err != nil {
		t.Fatal(err)
	}
	if err := ConfirmBatch("0xaa", 123); err != nil {
		t.Fatal(err)
	}
	var batch model.RevealBatch
	if err := DB.Where("tx_hash = ?", "0xaa").First(&batch).Error; err != nil {
		t.Fatal(err)
	}
	if batch.Status != model.BatchConfirmed || batch.BlockNumber == nil || *batch.BlockNumber != 123 {
		t.Fatalf("batch not confirmed at block: %+v", batch)
	}
}
