package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"server/conf"
	"server/faults"
	"server/ipfs"
	"server/log"
	"server/model"
	"server/service"
)

// Pinner the content-addressed storage contract
type Pinner interface {
	Pin(ctx context.Context, name string, data []byte) (string, error)
}

// UploadWorker claims rendered tokens and pins image plus metadata
type UploadWorker struct {
	pin    Pinner
	limit  int
	owner  string
	client *http.Client
}

func NewUploadWorker(pin Pinner) *UploadWorker {
	return &UploadWorker{
		pin:    pin,
		limit:  conf.ClaimLimit,
		owner:  "upload-" + uuid.NewString(),
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (w *UploadWorker) Name() string { return "upload" }

func (w *UploadWorker) Cycle(ctx context.Context) error {
	tokens, err := service.Claim(w.owner, model.StatusUploading, model.StatusUploading, w.limit)
	if err != nil {
		return err
	}
	for _, token := range tokens {
		w.process(ctx, token)
	}
	return nil
}

// process fetches the rendered image, pins it, then pins the metadata
// document referencing it. The token only moves to ready after both pins;
// a crash in between leaves it in uploading, which is safe because pinning
// identical bytes returns the identical address.
func (w *UploadWorker) process(ctx context.Context, token *model.Token) {
	attempt := token.Attempts + 1
	if token.ImageUrl == nil || *token.ImageUrl == "" {
		w.failed(token, faults.Newf(faults.Permanent, "token %d has no image locator", token.TokenId))
		return
	}
	data, err := w.fetch(ctx, *token.ImageUrl)
	if err != nil {
		w.failed(token, err)
		return
	}
	imageCid, err := w.pin.Pin(ctx, fmt.Sprintf("%d.png", token.TokenId), data)
	service.RecordUpload(token.TokenId, "image", attempt, strPtr(imageCid), err)
	if err != nil {
		w.failed(token, err)
		return
	}
	author, err := service.GetAuthor(token.Author)
	if err != nil {
		w.failed(token, faults.Newf(faults.Permanent, "author %s not found: %v", token.Author, err))
		return
	}
	doc, err := ipfs.EncodeMetadata(token.TokenId, author.Prompt, imageCid)
	if err != nil {
		w.failed(token, faults.New(faults.Permanent, err))
		return
	}
	metaCid, err := w.pin.Pin(ctx, fmt.Sprintf("%d.json", token.TokenId), doc)
	service.RecordUpload(token.TokenId, "metadata", attempt, strPtr(metaCid), err)
	if err != nil {
		w.failed(token, err)
		return
	}
	if err = service.MarkReady(token.TokenId, imageCid, metaCid); err != nil {
		log.Error("upload state write failed", zap.Uint64("tokenId", token.TokenId), zap.Error(err))
		return
	}
	log.Info("token pinned and ready",
		zap.Uint64("tokenId", token.TokenId),
		zap.String("imageCid", imageCid),
		zap.String("metaCid", metaCid))
}

// fetch downloads the image from its time-limited locator
func (w *UploadWorker) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, faults.New(faults.Permanent, err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, faults.Newf(faults.Transient, "image fetch failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		kind := faults.Permanent
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			kind = faults.Transient
		}
		return nil, faults.Newf(kind, "image fetch returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, faults.Newf(faults.Transient, "image read failed: %v", err)
	}
	if len(data) == 0 {
		return nil, faults.Newf(faults.Transient, "image fetch returned empty body")
	}
	return data, nil
}

func (w *UploadWorker) failed(token *model.Token, err error) {
	permanent := faults.KindOf(err) == faults.Permanent
	log.Warn("upload failed",
		zap.Uint64("tokenId", token.TokenId),
		zap.Int("attempts", token.Attempts),
		zap.Bool("permanent", permanent),
		zap.Error(err))
	if dbErr := service.UploadFailed(token.TokenId, err.Error(), permanent); dbErr != nil {
		log.Error("upload state write failed", zap.Uint64("tokenId", token.TokenId), zap.Error(dbErr))
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
