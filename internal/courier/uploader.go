// Package courier moves stego images through the DNS server: HTTP upload on
// the sending side, TXT lookups on the receiving side.
package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"github.com/faanross/simulacra_lsb/internal/chunker"
	dnsserver "github.com/faanross/simulacra_lsb/internal/dns-server"
	"github.com/rs/zerolog"
	"io"
	"net/http"
	"strings"
	"time"
)

// UploadError is returned when the server rejects an upload
type UploadError struct {
	StatusCode int
	Message    string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload rejected (%d): %s", e.StatusCode, e.Message)
}

// Uploader publishes chunked messages through the server's HTTP API
type Uploader struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// UploaderOption configures an Uploader
type UploaderOption func(*Uploader)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(client *http.Client) UploaderOption {
	return func(u *Uploader) {
		u.httpClient = client
	}
}

// WithUploaderLogger sets the uploader logger
func WithUploaderLogger(logger zerolog.Logger) UploaderOption {
	return func(u *Uploader) {
		u.logger = logger
	}
}

// NewUploader creates an uploader for an API such as http://host:8080
func NewUploader(baseURL string, opts ...UploaderOption) *Uploader {
	u := &Uploader{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// BuildUpload turns the output of DNSEncoder.EncodeToDNS into an upload request
func BuildUpload(manifest *chunker.DNSManifest, records []chunker.DNSRecord) (dnsserver.UploadRequest, error) {
	req := dnsserver.UploadRequest{
		MessageID: manifest.MessageID,
		Chunks:    make(map[int]string, manifest.TotalChunks),
		Manifest:  manifest.Value(),
	}

	for _, record := range records {
		label, err := chunker.ParseLabel(record.Name)
		if err != nil {
			return dnsserver.UploadRequest{}, err
		}
		if label.Kind == chunker.KindChunk && label.MessageID == manifest.MessageID {
			req.Chunks[label.Sequence] = record.Value
		}
	}

	if len(req.Chunks) != manifest.TotalChunks {
		return dnsserver.UploadRequest{}, fmt.Errorf("%w: manifest announces %d chunks, records carry %d",
			chunker.ErrIncompleteMessage, manifest.TotalChunks, len(req.Chunks))
	}
	return req, nil
}

// Upload posts a message to /upload
func (u *Uploader) Upload(ctx context.Context, upload dnsserver.UploadRequest) (*dnsserver.UploadResponse, error) {
	body, err := json.Marshal(upload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/upload", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, parseErrorResponse(resp)
	}

	var result dnsserver.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	u.logger.Info().
		Str("msg_id", result.MessageID).
		Int("chunks", result.Chunks).
		Msg("upload accepted")
	return &result, nil
}

func parseErrorResponse(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != "" {
		return &UploadError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}
	return &UploadError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
}
