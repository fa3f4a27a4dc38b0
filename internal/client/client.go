// Package client talks to the qrtrace API on behalf of a scanner station.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"qrtrace/internal/models"
	"qrtrace/internal/traceability"
)

var logger = logrus.StandardLogger().WithField("package", "client")

// APIError is a non-2xx reply from the server.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
}

// Client is a station-key authenticated API client. It satisfies
// traceability.StatusChecker so a local scan session can gate scans on the
// server's view of each completion.
type Client struct {
	baseURL    string
	key        string
	httpClient *http.Client
}

// New returns a client for the API rooted at baseURL, e.g. http://host:9000.
func New(baseURL, key string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/") + "/api/v1",
		key:        key,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

var _ traceability.StatusChecker = (*Client)(nil)

// GetStatus returns the scanned flag and linked document of a completion.
func (c *Client) GetStatus(ctx context.Context, completionID string) (traceability.Status, error) {
	var st traceability.Status
	if err := c.do(ctx, "GET", "/completions/"+url.PathEscape(completionID)+"/status", nil, &st); err != nil {
		return traceability.Status{}, err
	}
	return st, nil
}

// GetDocument loads a downstream document.
func (c *Client) GetDocument(ctx context.Context, id, docType string) (*models.DownstreamDocument, error) {
	path := "/documents/" + url.PathEscape(id)
	if docType != "" {
		path += "?type=" + url.QueryEscape(docType)
	}
	var doc models.DownstreamDocument
	if err := c.do(ctx, "GET", path, nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// CreateDocument creates a document of docType from a source order.
func (c *Client) CreateDocument(ctx context.Context, sourceOrderID, docType string) (*models.DownstreamDocument, error) {
	body := map[string]string{"source_order_id": sourceOrderID, "type": docType}
	var doc models.DownstreamDocument
	if err := c.do(ctx, "POST", "/documents", body, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// SaveScanRefs persists the session's scanned ids on the document.
func (c *Client) SaveScanRefs(ctx context.Context, docID string, refs []string) error {
	if refs == nil {
		refs = []string{}
	}
	return c.do(ctx, "PUT", "/documents/"+url.PathEscape(docID)+"/scan-refs", map[string]any{"refs": refs}, nil)
}

// Process submits a batch. A rejected batch is not an error: the result
// carries the reason and code.
func (c *Client) Process(ctx context.Context, req traceability.SubmitRequest) (traceability.SubmitResult, error) {
	resp, err := c.send(ctx, "POST", "/fulfillments/process", req)
	if err != nil {
		return traceability.SubmitResult{}, err
	}
	defer resp.Body.Close()

	var res traceability.SubmitResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return traceability.SubmitResult{}, fmt.Errorf("decode submit result (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusTooManyRequests {
		return res, &APIError{Status: resp.StatusCode, Code: res.Code, Message: res.Error}
	}
	return res, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	envelope := models.APIResponse{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	logger.WithFields(logrus.Fields{"method": method, "path": path}).Debug("request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}
