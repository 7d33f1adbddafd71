package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"server/faults"
	"server/model"
	"server/service"
)

// scriptPinner returns a deterministic address per asset name, with an
// optional scripted error for the first n calls
type scriptPinner struct {
	failFirst int
	failKind  faults.Kind
	calls     int
	names     []string
}

func (p *scriptPinner) Pin(ctx context.Context, name string, data []byte) (string, error) {
	p.calls++
	p.names = append(p.names, name)
	if p.calls <= p.failFirst {
		return "", faults.Newf(p.failKind, "pin %s failed", name)
	}
	return "bafy" + strings.ReplaceAll(name, ".", ""), nil
}

func imageServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Write([]byte("\x89PNG fake image bytes"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newUploadWorker(pin Pinner) *UploadWorker {
	return &UploadWorker{
		pin:    pin,
		limit:  20,
		owner:  "upload-test",
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func seedUploading(t *testing.T, url string) {
	t.Helper()
	seedAuthor(t, "0xabc", "a watercolor fox")
	seedToken(t, model.Token{TokenId: 1, Status: model.StatusUploading, Author: "0xabc", ImageUrl: &url})
}

func TestUploadSuccess(t *testing.T) {
	initTestDB(t)
	srv := imageServer(t, http.StatusOK)
	seedUploading(t, srv.URL+"/render/1.png")
	pin := &scriptPinner{}
	w := newUploadWorker(pin)

	if err := w.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	token := mustToken(t, 1)
	if token.Status != model.StatusReady {
		t.Fatalf("got status %s, want ready", token.Status)
	}
	if token.ImageCid == nil || token.MetaCid == nil {
		t.Fatal("ready token missing a content address")
	}
	if pin.names[0] != "1.png" || pin.names[1] != "1.json" {
		t.Fatalf("pinned assets %v", pin.names)
	}
	var records []model.UploadRecord
	if err := service.DB.Order("id ASC").Find(&records).Error; err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || !records[0].Ok || !records[1].Ok {
		t.Fatalf("audit trail %+v", records)
	}
}

func TestUploadPinTransient(t *testing.T) {
	initTestDB(t)
	srv := imageServer(t, http.StatusOK)
	seedUploading(t, srv.URL+"/render/1.png")
	pin := &scriptPinner{failFirst: 1, failKind: faults.Transient}
	w := newUploadWorker(pin)

	if err := w.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	token := mustToken(t, 1)
	if token.Status != model.StatusUploading || token.Attempts != 1 {
		t.Fatalf("got status %s attempts %d, want uploading/1", token.Status, token.Attempts)
	}
	var record model.UploadRecord
	if err := service.DB.First(&record).Error; err != nil {
		t.Fatal(err)
	}
	if record.Ok || record.Error == nil || record.Attempt != 1 {
		t.Fatalf("audit row %+v", record)
	}

	// the retry starts over and succeeds, pinning is idempotent on the bytes
	if err := w.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	token = mustToken(t, 1)
	if token.Status != model.StatusReady {
		t.Fatalf("got status %s after retry, want ready", token.Status)
	}
	var count int64
	service.DB.Model(&model.UploadRecord{}).Count(&count)
	if count != 3 {
		t.Fatalf("got %d audit rows, want 3", count)
	}
}

func TestUploadFetchGone(t *testing.T) {
	initTestDB(t)
	srv := imageServer(t, http.StatusNotFound)
	seedUploading(t, srv.URL+"/render/1.png")
	w := newUploadWorker(&scriptPinner{})

	if err := w.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	token := mustToken(t, 1)
	// the time-limited locator expired, nothing to retry
	if token.Status != model.StatusFailed {
		t.Fatalf("got status %s, want failed", token.Status)
	}
}

func TestUploadFetchOverloaded(t *testing.T) {
	initTestDB(t)
	srv := imageServer(t, http.StatusServiceUnavailable)
	seedUploading(t, srv.URL+"/render/1.png")
	w := newUploadWorker(&scriptPinner{})

	if err := w.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	token := mustToken(t, 1)
	if token.Status != model.StatusUploading || token.Attempts != 1 {
		t.Fatalf("got status %s attempts %d, want uploading/1", token.Status, token.Attempts)
	}
}

func TestUploadMissingLocator(t *testing.T) {
	initTestDB(t)
	seedAuthor(t, "0xabc", "a watercolor fox")
	seedToken(t, model.Token{TokenId: 1, Status: model.StatusUploading, Author: "0xabc"})
	w := newUploadWorker(&scriptPinner{})

	if err := w.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if token := mustToken(t, 1); token.Status != model.StatusFailed {
		t.Fatalf("got status %s, want failed", token.Status)
	}
}
