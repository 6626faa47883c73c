// internal/api/client.go
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fieldctf/engine/pkg/core"
)

const (
	// UploadPath is the results server endpoint receiving match reports.
	UploadPath = "/api/v1/games/add"
	// HealthPath answers 200 while the results server accepts reports.
	HealthPath = "/healthcheck"

	requestTimeout = 30 * time.Second
	// errorBodyLimit caps how much of a failed response ends up in the error.
	errorBodyLimit = 512
)

// Client talks to the results server that collects finished matches.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a client for the server at baseURL. apiKey is sent as the
// form secret of every upload.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// Healthcheck reports whether the results server is up.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+HealthPath, nil)
	if err != nil {
		return fmt.Errorf("build healthcheck: %w", err)
	}
	return c.do(req, "healthcheck")
}

// UploadReport posts the report file at path together with the summary
// fields of report, so the server can list the match without unpacking it.
func (c *Client) UploadReport(ctx context.Context, path string, report core.MatchReport, tag string) error {
	body, contentType, err := c.reportForm(path, report, tag)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+UploadPath, body)
	if err != nil {
		return fmt.Errorf("build upload: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(req, "upload")
}

// reportForm builds the multipart body. Reports are gzipped JSON of a
// single match, small enough to buffer.
func (c *Client) reportForm(path string, report core.MatchReport, tag string) (*bytes.Buffer, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open report: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	name := filepath.Base(path)
	fields := [][2]string{
		{"secret", c.apiKey},
		{"filename", name},
		{"gameID", report.GameID},
		{"title", report.Title},
		{"winners", string(report.Winners)},
		{"duration", strconv.FormatFloat(report.Duration, 'f', 1, 64)},
		{"tag", tag},
	}
	for _, kv := range fields {
		if err := w.WriteField(kv[0], kv[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", kv[0], err)
		}
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copy report: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func (c *Client) do(req *http.Request, op string) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	if text := strings.TrimSpace(string(msg)); text != "" {
		return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, text)
	}
	return fmt.Errorf("%s: status %d", op, resp.StatusCode)
}
