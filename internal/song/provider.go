package song

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

	"github.com/DoyleJ11/battle-live-backend/internal/engine"
)

type PollResult struct {
	Status       engine.JobStatus
	AudioURL     string
	VideoURL     string
	ImageURL     string
	Title        string
	ErrorMessage string
}

// Provider is the external song generation service.
type Provider interface {
	Submit(ctx context.Context, prompt, style string) (taskID string, err error)
	Poll(ctx context.Context, taskID string) (PollResult, error)
}

// HTTPProvider talks to a generation API that accepts
// POST {base}/generate and answers GET {base}/generate/status?taskId=.
type HTTPProvider struct {
	BaseURL     string
	APIKey      string
	CallbackURL string
	Client      *http.Client
}

func NewHTTPProvider(baseURL, apiKey, callbackURL string) *HTTPProvider {
	return &HTTPProvider{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		APIKey:      apiKey,
		CallbackURL: callbackURL,
		Client:      &http.Client{Timeout: 30 * time.Second},
	}
}

type submitRequest struct {
	Prompt      string `json:"prompt"`
	Style       string `json:"style"`
	CallbackURL string `json:"callbackUrl,omitempty"`
}

type submitResponse struct {
	TaskID string `json:"taskId"`
}

type statusResponse struct {
	Status       string `json:"status"`
	AudioURL     string `json:"audioUrl"`
	VideoURL     string `json:"videoUrl"`
	ImageURL     string `json:"imageUrl"`
	Title        string `json:"title"`
	ErrorMessage string `json:"errorMessage"`
}

func (p *HTTPProvider) Submit(ctx context.Context, prompt, style string) (string, error) {
	body, err := json.Marshal(submitRequest{Prompt: prompt, Style: style, CallbackURL: p.CallbackURL})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var out submitResponse
	if err := p.do(req, &out); err != nil {
		return "", err
	}
	if out.TaskID == "" {
		return "", fmt.Errorf("provider returned no task id")
	}
	return out.TaskID, nil
}

func (p *HTTPProvider) Poll(ctx context.Context, taskID string) (PollResult, error) {
	u := p.BaseURL + "/generate/status?taskId=" + url.QueryEscape(taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return PollResult{}, err
	}

	var out statusResponse
	if err := p.do(req, &out); err != nil {
		return PollResult{}, err
	}
	status, ok := NormalizeStatus(out.Status)
	if !ok {
		return PollResult{}, fmt.Errorf("provider returned unknown status %q", out.Status)
	}
	return PollResult{
		Status:       status,
		AudioURL:     out.AudioURL,
		VideoURL:     out.VideoURL,
		ImageURL:     out.ImageURL,
		Title:        out.Title,
		ErrorMessage: out.ErrorMessage,
	}, nil
}

func (p *HTTPProvider) do(req *http.Request, out any) error {
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider %s %s: %d %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}

// NormalizeStatus maps the provider's status vocabulary onto job statuses.
func NormalizeStatus(s string) (engine.JobStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "queued", "submitted":
		return engine.JobPending, true
	case "processing", "running", "text_success", "first_success":
		return engine.JobProcessing, true
	case "complete", "completed", "success":
		return engine.JobComplete, true
	case "failed", "error", "create_task_failed", "generate_audio_failed":
		return engine.JobFailed, true
	default:
		return "", false
	}
}
