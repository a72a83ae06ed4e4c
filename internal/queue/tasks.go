package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeGenerateTryOn = "tryon:generate"

type GeneratePayload struct {
	JobID       string    `json:"job_id"`
	Kind        string    `json:"kind"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewGenerateTask(payload GeneratePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal generate payload: %w", err)
	}
	return asynq.NewTask(TypeGenerateTryOn, body), nil
}

func ParseGeneratePayload(task *asynq.Task) (GeneratePayload, error) {
	var payload GeneratePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return GeneratePayload{}, fmt.Errorf("unmarshal generate payload: %w", err)
	}
	if payload.JobID == "" {
		return GeneratePayload{}, fmt.Errorf("generate payload has no job_id")
	}
	return payload, nil
}
