package auth

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestVerifyCallback(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`{"status":"succeeded","result_ref":"results/a.png"}`)
	sig := SignCallback("s3cret", ts, "job-a", body)

	if err := VerifyCallback("s3cret", ts, "job-a", sig, body, now, 5*time.Minute); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	cases := map[string]func() error{
		"tampered body": func() error {
			return VerifyCallback("s3cret", ts, "job-a", sig, []byte(`{"status":"failed"}`), now, 5*time.Minute)
		},
		"wrong secret": func() error {
			return VerifyCallback("other", ts, "job-a", sig, body, now, 5*time.Minute)
		},
		"stale timestamp": func() error {
			return VerifyCallback("s3cret", ts, "job-a", sig, body, now.Add(10*time.Minute), 5*time.Minute)
		},
		"missing prefix": func() error {
			return VerifyCallback("s3cret", ts, "job-a", sig[len("sha256="):], body, now, 5*time.Minute)
		},
		"signed for another job": func() error {
			return VerifyCallback("s3cret", ts, "job-b", sig, body, now, 5*time.Minute)
		},
		"missing job id": func() error {
			return VerifyCallback("s3cret", ts, "", sig, body, now, 5*time.Minute)
		},
		"no secret configured": func() error {
			return VerifyCallback("", ts, "job-a", sig, body, now, 5*time.Minute)
		},
	}
	for name, fn := range cases {
		if err := fn(); !errors.Is(err, ErrBadSignature) {
			t.Errorf("%s: expected ErrBadSignature, got %v", name, err)
		}
	}
}
