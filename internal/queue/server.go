package queue

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

type HandleFunc func(ctx context.Context, jobID string) error

// Server consumes generate tasks and hands each job id to handle.
type Server struct {
	server *asynq.Server
	handle HandleFunc
	logger zerolog.Logger
}

func NewServer(redisOpt asynq.RedisClientOpt, queueName string, concurrency int, handle HandleFunc, logger zerolog.Logger) *Server {
	return &Server{
		server: asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{queueName: 1},
			LogLevel:    asynq.WarnLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Warn().Err(err).
					Str("task", task.Type()).
					Int("retry", retried).
					Int("max_retry", maxRetry).
					Msg("task failed")
			}),
		}),
		handle: handle,
		logger: logger,
	}
}

func (s *Server) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeGenerateTryOn, s.handleGenerate)
	return mux
}

func (s *Server) Start() error {
	return s.server.Start(s.Mux())
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) handleGenerate(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseGeneratePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	return s.handle(ctx, payload.JobID)
}
