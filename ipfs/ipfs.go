package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"server/faults"
)

// Client pin client against the IPFS HTTP API
type Client struct {
	server string
	client *http.Client
}

func NewClient(server string) *Client {
	return &Client{
		server: server,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// Pin adds and pins one blob, returning its content address. Pinning
// identical bytes returns the identical address, which is what makes every
// upload retry safe.
func (c *Client) Pin(ctx context.Context, name string, data []byte) (string, error) {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", faults.New(faults.Permanent, err)
	}
	if _, err = part.Write(data); err != nil {
		return "", faults.New(faults.Permanent, err)
	}
	if err = writer.Close(); err != nil {
		return "", faults.New(faults.Permanent, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.server+"/api/v0/add?cid-version=1&pin=true", body)
	if err != nil {
		return "", faults.New(faults.Permanent, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := c.client.Do(req)
	if err != nil {
		return "", faults.Newf(faults.Transient, "pin request failed: %v", err)
	}
	defer resp.Body.Close()
	ret, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", faults.Newf(faults.Transient, "pin response read failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", classify(resp.StatusCode, ret)
	}
	var added addResponse
	if err = json.Unmarshal(ret, &added); err != nil || added.Hash == "" {
		return "", faults.Newf(faults.Transient, "pin returned no address: %s", ret)
	}
	return added.Hash, nil
}

func classify(status int, body []byte) error {
	err := fmt.Errorf("pin service %d: %s", status, faults.Truncate(string(body), 256))
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return faults.New(faults.Transient, err)
	default:
		// auth and quota errors land here: retrying the same bytes cannot help
		return faults.New(faults.Permanent, err)
	}
}

// URI the content-addressed reference embedded in metadata and sent on chain
func URI(cid string) string {
	return "ipfs://" + cid
}

// Metadata standard token metadata document referencing the pinned image
type Metadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// EncodeMetadata builds the metadata document bytes for one token. The field
// order is fixed so identical inputs always pin to the identical address.
func EncodeMetadata(tokenId uint64, prompt, imageCid string) ([]byte, error) {
	return json.Marshal(Metadata{
		Name:        fmt.Sprintf("Token #%d", tokenId),
		Description: prompt,
		Image:       URI(imageCid),
	})
}
