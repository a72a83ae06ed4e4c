package synth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testRequest() Request {
	return Request{
		JobID:       "01JOB",
		Kind:        "image",
		Inputs:      [2]string{"https://media.test/person.jpg", "https://media.test/shirt.jpg"},
		AspectRatio: "4:5",
		Prompt:      "beach at sunset",
	}
}

func TestOpenRouter_DecodesInlineImage(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("auth=%q", got)
		}
		var body openRouterImageReq
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(body.Modalities) != 2 || body.Modalities[0] != "image" {
			t.Errorf("modalities=%v", body.Modalities)
		}
		parts := body.Messages[0].Content
		if len(parts) != 3 || parts[1].ImageURL.URL != "https://media.test/person.jpg" || parts[2].ImageURL.URL != "https://media.test/shirt.jpg" {
			t.Errorf("unexpected parts %+v", parts)
		}
		if !strings.Contains(parts[0].Text, "beach at sunset") {
			t.Errorf("prompt missing from instruction: %q", parts[0].Text)
		}
		_, _ = w.Write([]byte(`{"choices":[{"finish_reason":"stop","message":{"images":[{"type":"image_url","image_url":{"url":"data:image/png;base64,` +
			base64.StdEncoding.EncodeToString(png) + `"}}]}}]}`))
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL, "key", "img-model", "", "GenGenie")
	res, err := p.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.ContentType != "image/png" || string(res.Data) != string(png) {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestOpenRouter_ContentFilterIsPolicyRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"finish_reason":"content_filter","message":{"content":""}}]}`))
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL, "key", "img-model", "", "")
	_, err := p.Generate(context.Background(), testRequest())
	if !errors.Is(err, ErrPolicyRejected) {
		t.Fatalf("expected ErrPolicyRejected, got %v", err)
	}
}

func TestOpenRouter_NoImageIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"finish_reason":"stop","message":{"content":"sorry"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL, "key", "img-model", "", "")
	if _, err := p.Generate(context.Background(), testRequest()); err == nil {
		t.Fatalf("expected error for imageless response")
	}
}

func TestOpenRouter_RejectsVideo(t *testing.T) {
	p := NewOpenRouterProvider("http://unused", "key", "img-model", "", "")
	req := testRequest()
	req.Kind = "video"
	if _, err := p.Generate(context.Background(), req); err == nil {
		t.Fatalf("expected video to be unsupported")
	}
}

func TestTryOn_PollsUntilCompleted(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/run":
			var body tryOnRunReq
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.ModelName != "tryon-v1.6" || body.Inputs["model_image"] != "https://media.test/person.jpg" {
				t.Errorf("unexpected run body %+v", body)
			}
			_, _ = w.Write([]byte(`{"id":"pred-1"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/status/pred-1":
			if polls.Add(1) < 3 {
				_, _ = w.Write([]byte(`{"id":"pred-1","status":"processing"}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":"pred-1","status":"completed","output":["https://cdn.test/out.png"]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewTryOnProvider(srv.URL, "key")
	p.PollInterval = 5 * time.Millisecond
	res, err := p.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.URL != "https://cdn.test/out.png" {
		t.Fatalf("url=%q", res.URL)
	}
	if polls.Load() != 3 {
		t.Fatalf("polls=%d", polls.Load())
	}
}

func TestTryOn_ModerationFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"id":"pred-2"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"pred-2","status":"failed","error":{"name":"ContentModerationError","message":"prohibited content"}}`))
	}))
	defer srv.Close()

	p := NewTryOnProvider(srv.URL, "key")
	p.PollInterval = time.Millisecond
	_, err := p.Generate(context.Background(), testRequest())
	if !errors.Is(err, ErrPolicyRejected) {
		t.Fatalf("expected ErrPolicyRejected, got %v", err)
	}
}

func TestTryOn_StopsOnContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"id":"pred-3"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"pred-3","status":"processing"}`))
	}))
	defer srv.Close()

	p := NewTryOnProvider(srv.URL, "key")
	p.PollInterval = time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := p.Generate(ctx, testRequest()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRegistry_RoutesByName(t *testing.T) {
	reg := NewRegistry()
	reg.Register(" Mock ", func(context.Context, string) (Provider, error) {
		return &MockProvider{}, nil
	})

	p, err := reg.Get(context.Background(), "mock", "image")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	res, err := p.Generate(context.Background(), testRequest())
	if err != nil || res.URL != "https://media.test/person.jpg" {
		t.Fatalf("mock result=%+v err=%v", res, err)
	}
	if _, err := reg.Get(context.Background(), "nope", "image"); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}
