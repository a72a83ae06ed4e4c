package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenRouterProvider generates try-on stills through an image-capable chat
// model on OpenRouter. It has no video support.
type OpenRouterProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	SiteURL string
	AppName string
	Client  *http.Client
}

type openRouterImageURL struct {
	URL string `json:"url"`
}

type openRouterPart struct {
	Type     string              `json:"type"`
	Text     string              `json:"text,omitempty"`
	ImageURL *openRouterImageURL `json:"image_url,omitempty"`
}

type openRouterMsg struct {
	Role    string           `json:"role"`
	Content []openRouterPart `json:"content"`
}

type openRouterImageReq struct {
	Model      string          `json:"model"`
	Messages   []openRouterMsg `json:"messages"`
	Modalities []string        `json:"modalities"`
	Stream     bool            `json:"stream"`
}

type openRouterImageResp struct {
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Content string `json:"content"`
			Images  []struct {
				Type     string             `json:"type"`
				ImageURL openRouterImageURL `json:"image_url"`
			} `json:"images"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenRouterProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		SiteURL: siteURL,
		AppName: appName,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *OpenRouterProvider) Generate(ctx context.Context, req Request) (Result, error) {
	if p.Client == nil {
		return Result{}, errors.New("openrouter: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return Result{}, errors.New("openrouter: api key is required")
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return Result{}, errors.New("openrouter: model is required")
	}
	if req.Kind == "video" {
		return Result{}, errors.New("openrouter: video generation is not supported")
	}

	reqBody := openRouterImageReq{
		Model:      model,
		Modalities: []string{"image", "text"},
		Messages: []openRouterMsg{{
			Role: "user",
			Content: []openRouterPart{
				{Type: "text", Text: tryOnInstruction(req)},
				{Type: "image_url", ImageURL: &openRouterImageURL{URL: req.Inputs[0]}},
				{Type: "image_url", ImageURL: &openRouterImageURL{URL: req.Inputs[1]}},
			},
		}},
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)
	if p.SiteURL != "" {
		httpReq.Header.Set("HTTP-Referer", p.SiteURL)
	}
	if p.AppName != "" {
		httpReq.Header.Set("X-Title", p.AppName)
	}

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		if resp.StatusCode == http.StatusForbidden {
			return Result{}, fmt.Errorf("openrouter: %w: %s", ErrPolicyRejected, msg)
		}
		return Result{}, fmt.Errorf("openrouter: %s", msg)
	}

	var decoded openRouterImageResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return Result{}, fmt.Errorf("openrouter: %s", decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return Result{}, errors.New("openrouter: empty response")
	}
	choice := decoded.Choices[0]
	if choice.FinishReason == "content_filter" {
		return Result{}, fmt.Errorf("openrouter: %w", ErrPolicyRejected)
	}
	if len(choice.Message.Images) == 0 {
		return Result{}, errors.New("openrouter: model returned no image")
	}
	return decodeImageURL(choice.Message.Images[0].ImageURL.URL)
}

// decodeImageURL unpacks a base64 data URL; anything else is kept as a URL.
func decodeImageURL(raw string) (Result, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "data:") {
		return Result{URL: raw}, nil
	}
	meta, payload, ok := strings.Cut(strings.TrimPrefix(raw, "data:"), ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return Result{}, errors.New("openrouter: malformed image data url")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Result{}, fmt.Errorf("openrouter: decode image: %w", err)
	}
	return Result{Data: data, ContentType: strings.TrimSuffix(meta, ";base64")}, nil
}

func tryOnInstruction(req Request) string {
	var sb strings.Builder
	sb.WriteString("Dress the person in the first image in the garment shown in the second image. ")
	sb.WriteString("Keep the person's face, body and pose unchanged and make the garment fit naturally. ")
	if req.AspectRatio != "" {
		fmt.Fprintf(&sb, "Output aspect ratio %s. ", req.AspectRatio)
	}
	if req.ProductLabel != "" {
		fmt.Fprintf(&sb, "The garment is: %s. ", req.ProductLabel)
	}
	if p := strings.TrimSpace(req.Prompt); p != "" {
		sb.WriteString(p)
	}
	return strings.TrimSpace(sb.String())
}
