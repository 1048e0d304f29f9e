package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/seclyn/callwarden/internal/observe"
)

// Client talks to the remote classification workflow service.
// It is safe for concurrent use; multiple artifacts may be in flight at once.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	userID     string
	metrics    *observe.Metrics
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient overrides the HTTP client. The default applies a 60-second
// timeout covering connect, write, and read.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-call timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewClient creates a classification client. baseURL is the service root
// (no trailing slash); apiKey is sent as a Bearer token on every request;
// userID attributes uploads and invocations to this installation.
func NewClient(baseURL, apiKey, userID string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		userID:     userID,
		metrics:    observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify uploads the artifact bytes and runs the blocking classification
// workflow against them. Failures are tagged: *[UploadError], *[InvokeError],
// or *[ParseError]. The caller discards the artifact on any failure.
func (c *Client) Classify(ctx context.Context, artifact []byte, filename string) (Verdict, error) {
	uploadStart := time.Now()
	fileID, err := c.upload(ctx, artifact, filename)
	uploadDur := time.Since(uploadStart)
	c.metrics.UploadDuration.Record(ctx, uploadDur.Seconds())
	if err != nil {
		c.metrics.RecordPipelineError(ctx, "upload")
		return Verdict{}, err
	}

	invokeStart := time.Now()
	raw, err := c.invoke(ctx, fileID)
	c.metrics.ClassifyDuration.Record(ctx, time.Since(invokeStart).Seconds())
	if err != nil {
		c.metrics.RecordPipelineError(ctx, "invoke")
		return Verdict{}, err
	}

	verdict, err := ParseVerdict(raw)
	if err != nil {
		c.metrics.RecordPipelineError(ctx, "parse")
		return Verdict{}, err
	}
	verdict.UploadDuration = uploadDur
	c.metrics.RecordVerdict(ctx, string(verdict.Decision))
	return verdict, nil
}

// upload performs the multipart file upload and returns the opaque upload
// reference id.
func (c *Client) upload(ctx context.Context, artifact []byte, filename string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", &UploadError{Cause: err}
	}
	if _, err := part.Write(artifact); err != nil {
		return "", &UploadError{Cause: err}
	}
	if err := mw.WriteField("user", c.userID); err != nil {
		return "", &UploadError{Cause: err}
	}
	if err := mw.Close(); err != nil {
		return "", &UploadError{Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files/upload", &body)
	if err != nil {
		return "", &UploadError{Cause: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &UploadError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return "", &UploadError{StatusCode: resp.StatusCode}
	}

	var uploaded struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return "", &UploadError{Cause: fmt.Errorf("decode upload response: %w", err)}
	}
	if uploaded.ID == "" {
		return "", &UploadError{Cause: fmt.Errorf("upload response carries no id")}
	}
	return uploaded.ID, nil
}

// invoke runs the classification workflow synchronously against the uploaded
// file and returns the raw response body for parsing.
func (c *Client) invoke(ctx context.Context, fileID string) ([]byte, error) {
	payload := map[string]any{
		"inputs": map[string]any{
			"audio_file": map[string]any{
				"transfer_method": "local_file",
				"upload_file_id":  fileID,
				"type":            "audio",
			},
		},
		"response_mode": "blocking",
		"user":          c.userID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &InvokeError{Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/workflows/run", bytes.NewReader(body))
	if err != nil {
		return nil, &InvokeError{Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &InvokeError{Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &InvokeError{Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &InvokeError{StatusCode: resp.StatusCode}
	}
	return raw, nil
}
