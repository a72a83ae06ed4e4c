package rabbitmq

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/gengenie/internal/tryon"
)

func TestQueueNames(t *testing.T) {
	if retryQueue("tryon_jobs") != "tryon_jobs.retry" {
		t.Fatalf("retry queue=%s", retryQueue("tryon_jobs"))
	}
	if deadQueue("tryon_jobs") != "tryon_jobs.dlq" {
		t.Fatalf("dlq=%s", deadQueue("tryon_jobs"))
	}
}

func TestRetryCount(t *testing.T) {
	cases := []struct {
		headers amqp.Table
		want    int
	}{
		{nil, 0},
		{amqp.Table{}, 0},
		{amqp.Table{retryHeader: int32(2)}, 2},
		{amqp.Table{retryHeader: int64(3)}, 3},
		{amqp.Table{retryHeader: "x"}, 0},
	}
	for _, tc := range cases {
		if got := retryCount(tc.headers); got != tc.want {
			t.Errorf("retryCount(%v)=%d want %d", tc.headers, got, tc.want)
		}
	}
}

func TestPublisher_RedialsAfterFailedDial(t *testing.T) {
	dials := 0
	p := &Publisher{
		url:   "amqp://unreachable/",
		queue: "tryon_jobs",
		dial: func(string) (*amqp.Connection, error) {
			dials++
			return nil, errors.New("connection refused")
		},
	}
	job := &tryon.Job{ID: "01HTESTJOB0000000000000000", Kind: tryon.KindImage}

	for i := 0; i < 2; i++ {
		err := p.Dispatch(context.Background(), job)
		if err == nil || !strings.Contains(err.Error(), "rabbit dial") {
			t.Fatalf("dispatch #%d: err=%v", i, err)
		}
	}
	if dials != 2 {
		t.Fatalf("dials=%d want 2", dials)
	}
}

func TestPublisher_ReopensClosedChannel(t *testing.T) {
	url := os.Getenv("RABBIT_TEST_URL")
	if url == "" {
		t.Skip("RABBIT_TEST_URL not set")
	}
	queue := "gengenie_test_" + strconv.FormatInt(time.Now().UnixNano(), 36)
	p, err := NewPublisher(url, queue)
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	defer p.Close()

	job := &tryon.Job{ID: "01HTESTJOB0000000000000001", Kind: tryon.KindVideo}
	_ = p.ch.Close()
	if err := p.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("dispatch after channel close: %v", err)
	}
	_ = p.conn.Close()
	if err := p.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("dispatch after connection close: %v", err)
	}
}
