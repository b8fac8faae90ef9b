// Package relay implements the protocol adapter against an HTTP relay that
// owns the upstream bot connection of one account.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/ports"
)

const (
	maxResponseBytes = 4 << 20
	// deadAfter consecutive transport failures mark the link as down.
	deadAfter = 3
)

type API struct {
	BaseURL    string
	SubmitPath string
	TasksPath  string
	AssetsPath string
	QuotaPath  string
}

func DefaultAPI(baseURL string) API {
	return API{
		BaseURL:    baseURL,
		SubmitPath: "submit",
		TasksPath:  "tasks/",
		AssetsPath: "assets",
		QuotaPath:  "quota",
	}
}

type Adapter struct {
	API            API
	Account        domain.AccountID
	Token          string
	HTTPClient     *http.Client
	RequestTimeout time.Duration

	failures atomic.Int32
}

var (
	_ ports.ProtocolAdapter   = (*Adapter)(nil)
	_ ports.QuotaReporter     = (*Adapter)(nil)
	_ ports.ConnectivityProbe = (*Adapter)(nil)
)

type submitRequest struct {
	Function  string            `json:"function"`
	Action    string            `json:"action"`
	Mode      string            `json:"mode,omitempty"`
	AccountID string            `json:"account_id"`
	TaskID    string            `json:"task_id"`
	Prompt    string            `json:"prompt,omitempty"`
	MessageID string            `json:"message_id,omitempty"`
	CustomID  string            `json:"custom_id,omitempty"`
	Nonce     string            `json:"nonce,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
}

type submitResponse struct {
	MessageID  string            `json:"message_id"`
	Properties map[string]string `json:"properties"`
}

type statusResponse struct {
	Status     string            `json:"status"`
	Progress   string            `json:"progress"`
	ImageURL   string            `json:"image_url"`
	FailReason string            `json:"fail_reason"`
	Properties map[string]string `json:"properties"`
}

type assetRequest struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data,omitempty"`
	URL         string `json:"url,omitempty"`
}

type assetResponse struct {
	URL string `json:"url"`
}

type quotaResponse struct {
	FastRemaining     int64 `json:"fast_remaining"`
	RelaxResetPending bool  `json:"relax_reset_pending"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (a *Adapter) Submit(ctx context.Context, req ports.SubmitRequest) (ports.SubmitResult, error) {
	body := submitRequest{
		Function:  string(req.Function),
		Action:    string(req.Action),
		Mode:      string(req.Mode),
		AccountID: string(req.AccountID),
		TaskID:    string(req.TaskID),
		Prompt:    req.Prompt,
		MessageID: req.MessageID,
		CustomID:  req.CustomID,
		Nonce:     req.Nonce,
		Payload:   req.Payload,
	}

	var resp submitResponse
	if err := a.do(ctx, http.MethodPost, a.API.SubmitPath, body, &resp); err != nil {
		return ports.SubmitResult{}, fmt.Errorf("submit %s: %w", req.Function, err)
	}
	return ports.SubmitResult{MessageID: resp.MessageID, Properties: resp.Properties}, nil
}

func (a *Adapter) Poll(ctx context.Context, task domain.Task) (ports.StatusUpdate, error) {
	var resp statusResponse
	if err := a.do(ctx, http.MethodGet, a.API.TasksPath+url.PathEscape(string(task.ID)), nil, &resp); err != nil {
		return ports.StatusUpdate{}, fmt.Errorf("poll task %s: %w", task.ID, err)
	}

	return ports.StatusUpdate{
		TaskID:     task.ID,
		Status:     domain.TaskStatus(strings.ToUpper(resp.Status)),
		Progress:   resp.Progress,
		ImageURL:   resp.ImageURL,
		FailReason: resp.FailReason,
		Properties: resp.Properties,
	}, nil
}

func (a *Adapter) UploadAsset(ctx context.Context, asset ports.Asset) (string, error) {
	var resp assetResponse
	body := assetRequest{Name: asset.Name, ContentType: asset.ContentType, Data: asset.Data, URL: asset.URL}
	if err := a.do(ctx, http.MethodPost, a.API.AssetsPath, body, &resp); err != nil {
		return "", fmt.Errorf("upload asset %s: %w", asset.Name, err)
	}
	if resp.URL == "" {
		return "", fmt.Errorf("upload asset %s: relay returned no url", asset.Name)
	}
	return resp.URL, nil
}

func (a *Adapter) FetchQuota(ctx context.Context) (domain.QuotaSnapshot, error) {
	var resp quotaResponse
	if err := a.do(ctx, http.MethodGet, a.API.QuotaPath, nil, &resp); err != nil {
		return domain.QuotaSnapshot{}, fmt.Errorf("fetch quota: %w", err)
	}
	return domain.QuotaSnapshot{
		FastRemaining:     resp.FastRemaining,
		RelaxResetPending: resp.RelaxResetPending,
		AsOf:              time.Now(),
	}, nil
}

// Alive reports false once the relay failed to answer several times in a
// row. Any answer, including an error status, counts as alive.
func (a *Adapter) Alive() bool {
	return a.failures.Load() < deadAfter
}

func (a *Adapter) do(ctx context.Context, method, path string, in, out any) error {
	endpoint, err := buildAPIURL(a.API.BaseURL, path)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	requestCtx, cancel := a.requestContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(requestCtx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}
	if a.Account != "" {
		req.Header.Set("X-Drawq-Account", string(a.Account))
	}

	resp, err := a.httpClient().Do(req)
	if err != nil {
		if ctx.Err() == nil {
			a.failures.Add(1)
		}
		return fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()
	a.failures.Store(0)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return decodeUpstreamError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (a *Adapter) httpClient() *http.Client {
	if a.HTTPClient != nil {
		return a.HTTPClient
	}
	return http.DefaultClient
}

func (a *Adapter) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	requestTimeout := a.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	return context.WithTimeout(ctx, requestTimeout)
}

func decodeUpstreamError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	var payload errorResponse
	message := strings.TrimSpace(string(data))
	if err := json.Unmarshal(data, &payload); err == nil {
		switch {
		case payload.Message != "":
			message = payload.Message
		case payload.Error != "":
			message = payload.Error
		}
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	return &domain.UpstreamError{Code: resp.StatusCode, Message: message}
}

func buildAPIURL(baseURL string, path string) (string, error) {
	if baseURL == "" {
		return "", errors.New("relay base url is required")
	}
	if path == "" {
		return "", errors.New("relay path is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse relay base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("relay base url must use http or https")
	}
	if parsed.Host == "" {
		return "", errors.New("relay base url host is required")
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}

	endpoint, err := parsed.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", fmt.Errorf("parse relay path: %w", err)
	}
	return endpoint.String(), nil
}
