package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TryOnProvider talks to a hosted virtual try-on API that works as
// submit-then-poll: POST /run returns a prediction id, GET /status/{id}
// reports progress until the prediction completes or fails.
type TryOnProvider struct {
	BaseURL      string
	APIKey       string
	ImageModel   string
	VideoModel   string
	PollInterval time.Duration
	Client       *http.Client
}

type tryOnRunReq struct {
	ModelName string         `json:"model_name"`
	Inputs    map[string]any `json:"inputs"`
}

type tryOnError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

type tryOnRunResp struct {
	ID    string      `json:"id"`
	Error *tryOnError `json:"error"`
}

type tryOnStatusResp struct {
	ID     string      `json:"id"`
	Status string      `json:"status"`
	Output []string    `json:"output"`
	Error  *tryOnError `json:"error"`
}

func NewTryOnProvider(baseURL, apiKey string) *TryOnProvider {
	if baseURL == "" {
		baseURL = "https://api.fashn.ai/v1"
	}
	return &TryOnProvider{
		BaseURL:      baseURL,
		APIKey:       apiKey,
		ImageModel:   "tryon-v1.6",
		VideoModel:   "image-to-video",
		PollInterval: 2 * time.Second,
		Client:       &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *TryOnProvider) Generate(ctx context.Context, req Request) (Result, error) {
	if p.Client == nil {
		return Result{}, errors.New("tryon: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return Result{}, errors.New("tryon: api key is required")
	}

	model := p.ImageModel
	inputs := map[string]any{
		"model_image":   req.Inputs[0],
		"garment_image": req.Inputs[1],
	}
	if req.AspectRatio != "" {
		inputs["aspect_ratio"] = req.AspectRatio
	}
	if req.Prompt != "" {
		inputs["prompt"] = req.Prompt
	}
	if req.Kind == "video" {
		model = p.VideoModel
	}

	var run tryOnRunResp
	if err := p.do(ctx, http.MethodPost, "/run", tryOnRunReq{ModelName: model, Inputs: inputs}, &run); err != nil {
		return Result{}, err
	}
	if run.Error != nil {
		return Result{}, run.Error.asError()
	}
	if run.ID == "" {
		return Result{}, errors.New("tryon: run returned no prediction id")
	}

	interval := p.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
		}

		var st tryOnStatusResp
		if err := p.do(ctx, http.MethodGet, "/status/"+run.ID, nil, &st); err != nil {
			return Result{}, err
		}
		switch st.Status {
		case "completed":
			if len(st.Output) == 0 {
				return Result{}, errors.New("tryon: prediction completed without output")
			}
			return Result{URL: st.Output[0]}, nil
		case "failed", "canceled":
			if st.Error != nil {
				return Result{}, st.Error.asError()
			}
			return Result{}, fmt.Errorf("tryon: prediction %s", st.Status)
		}
	}
}

func (e *tryOnError) asError() error {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = e.Name
	}
	if strings.Contains(strings.ToLower(e.Name), "moderation") {
		return fmt.Errorf("tryon: %w: %s", ErrPolicyRejected, msg)
	}
	return fmt.Errorf("tryon: %s", msg)
}

func (p *TryOnProvider) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	url := strings.TrimRight(p.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(b))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("tryon: %s", msg)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
