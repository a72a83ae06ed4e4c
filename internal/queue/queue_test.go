package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

func TestGenerateTask_RoundTrip(t *testing.T) {
	task, err := NewGenerateTask(GeneratePayload{JobID: "01JOB", Kind: "image"})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if task.Type() != TypeGenerateTryOn {
		t.Fatalf("type=%s", task.Type())
	}
	got, err := ParseGeneratePayload(task)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.JobID != "01JOB" || got.Kind != "image" {
		t.Fatalf("payload=%+v", got)
	}
}

func TestMux_RoutesJobID(t *testing.T) {
	var seen string
	s := NewServer(asynq.RedisClientOpt{Addr: "127.0.0.1:0"}, "tryon", 1, func(ctx context.Context, jobID string) error {
		seen = jobID
		return nil
	}, zerolog.Nop())

	task, _ := NewGenerateTask(GeneratePayload{JobID: "01JOB"})
	if err := s.Mux().ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("process: %v", err)
	}
	if seen != "01JOB" {
		t.Fatalf("handled %q", seen)
	}
}

func TestMux_BadPayloadSkipsRetry(t *testing.T) {
	s := NewServer(asynq.RedisClientOpt{Addr: "127.0.0.1:0"}, "tryon", 1, func(ctx context.Context, jobID string) error {
		t.Fatalf("handler must not run")
		return nil
	}, zerolog.Nop())

	err := s.Mux().ProcessTask(context.Background(), asynq.NewTask(TypeGenerateTryOn, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}
