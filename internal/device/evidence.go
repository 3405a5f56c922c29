package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// HTTPEvidenceStorage uploads evidence files to an external storage endpoint
// via multipart POST and returns the URL from its response.
type HTTPEvidenceStorage struct {
	uploadURL string
	http      *http.Client
}

// NewHTTPEvidenceStorage creates an HTTPEvidenceStorage.
func NewHTTPEvidenceStorage(uploadURL string, timeout time.Duration) *HTTPEvidenceStorage {
	return &HTTPEvidenceStorage{
		uploadURL: uploadURL,
		http:      &http.Client{Timeout: timeout},
	}
}

// Upload sends the file and returns the storage URL.
func (s *HTTPEvidenceStorage) Upload(ctx context.Context, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open evidence file: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(localPath))
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("read evidence file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finish upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.uploadURL, &body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload evidence: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("upload evidence: storage returned %d", resp.StatusCode)
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("upload evidence: storage returned no url")
	}
	return out.URL, nil
}

// PassthroughEvidenceStorage keeps the local reference as the stored URL,
// used when no storage endpoint is configured.
type PassthroughEvidenceStorage struct{}

func (PassthroughEvidenceStorage) Upload(_ context.Context, localPath string) (string, error) {
	return localPath, nil
}
