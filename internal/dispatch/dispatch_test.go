package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/suPer8Hu/gengenie/internal/credits"
	"github.com/suPer8Hu/gengenie/internal/synth"
	"github.com/suPer8Hu/gengenie/internal/tryon"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&credits.Balance{}, &credits.Entry{}, &tryon.Job{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type tickClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type providerFunc func(ctx context.Context, req synth.Request) (synth.Result, error)

func (f providerFunc) Generate(ctx context.Context, req synth.Request) (synth.Result, error) {
	return f(ctx, req)
}

func registryWith(p synth.Provider) *synth.Registry {
	reg := synth.NewRegistry()
	reg.Register("fake", func(context.Context, string) (synth.Provider, error) {
		return p, nil
	})
	return reg
}

type memoryMedia struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryMedia) ResolveURL(_ context.Context, ref string) (string, error) {
	return "https://media.test/" + ref, nil
}

func (m *memoryMedia) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = data
	return key, nil
}

func testJob() *tryon.Job {
	prompt := "evening light"
	return &tryon.Job{
		ID:          "01HJOB0000000000000000000A",
		OwnerID:     "u1",
		Kind:        tryon.KindImage,
		Status:      tryon.StatusGenerating,
		PersonRef:   "inputs/u1/person.jpg",
		GarmentRef:  "inputs/u1/shirt.jpg",
		Prompt:      &prompt,
		AspectRatio: tryon.Ratio9x16,
	}
}

func newExecutor(p synth.Provider) *Executor {
	return &Executor{
		Providers: registryWith(p),
		Provider:  "fake",
		Timeout:   time.Second,
		Media:     &memoryMedia{},
		Logger:    zerolog.Nop(),
	}
}

func TestExecute_SuccessWithURL(t *testing.T) {
	var got synth.Request
	exec := newExecutor(providerFunc(func(ctx context.Context, req synth.Request) (synth.Result, error) {
		got = req
		return synth.Result{URL: "https://provider.test/out.png"}, nil
	}))

	outcome := exec.Execute(context.Background(), testJob())
	s, ok := outcome.(tryon.Succeeded)
	if !ok || s.ResultRef != "https://provider.test/out.png" {
		t.Fatalf("outcome=%#v", outcome)
	}
	if got.Inputs[0] != "https://media.test/inputs/u1/person.jpg" || got.Inputs[1] != "https://media.test/inputs/u1/shirt.jpg" {
		t.Fatalf("inputs not resolved in order: %v", got.Inputs)
	}
	if got.Prompt != "evening light" || got.AspectRatio != "9:16" || got.Kind != "image" {
		t.Fatalf("request=%+v", got)
	}
}

func TestExecute_InlineOutputIsStored(t *testing.T) {
	store := &memoryMedia{}
	exec := newExecutor(providerFunc(func(ctx context.Context, req synth.Request) (synth.Result, error) {
		return synth.Result{Data: []byte("png-bytes"), ContentType: "image/png"}, nil
	}))
	exec.Media = store

	job := testJob()
	outcome := exec.Execute(context.Background(), job)
	s, ok := outcome.(tryon.Succeeded)
	if !ok {
		t.Fatalf("outcome=%#v", outcome)
	}
	if s.ResultRef != "results/"+job.ID+".png" {
		t.Fatalf("ref=%q", s.ResultRef)
	}
	if string(store.objects[s.ResultRef]) != "png-bytes" {
		t.Fatalf("result bytes not stored")
	}
}

func TestExecute_FailuresAreUniform(t *testing.T) {
	cases := []struct {
		name   string
		p      providerFunc
		reason string
	}{
		{
			name: "provider error",
			p: func(ctx context.Context, req synth.Request) (synth.Result, error) {
				return synth.Result{}, errors.New("upstream 500")
			},
			reason: "generation failed: upstream 500",
		},
		{
			name: "policy",
			p: func(ctx context.Context, req synth.Request) (synth.Result, error) {
				return synth.Result{}, fmt.Errorf("x: %w", synth.ErrPolicyRejected)
			},
			reason: reasonPolicy,
		},
		{
			name: "timeout",
			p: func(ctx context.Context, req synth.Request) (synth.Result, error) {
				<-ctx.Done()
				return synth.Result{}, ctx.Err()
			},
			reason: reasonTimedOut,
		},
		{
			name: "empty output",
			p: func(ctx context.Context, req synth.Request) (synth.Result, error) {
				return synth.Result{URL: "  "}, nil
			},
			reason: reasonNoOutput,
		},
		{
			name: "panic",
			p: func(ctx context.Context, req synth.Request) (synth.Result, error) {
				panic("boom")
			},
			reason: "generation failed: provider panicked: boom",
		},
		{
			name: "long multibyte error is cut on a rune boundary",
			p: func(ctx context.Context, req synth.Request) (synth.Result, error) {
				return synth.Result{}, errors.New(strings.Repeat("é", 200))
			},
			reason: "generation failed: " + strings.Repeat("é", 140),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exec := newExecutor(tc.p)
			exec.Timeout = 20 * time.Millisecond
			outcome := exec.Execute(context.Background(), testJob())
			f, ok := outcome.(tryon.Failed)
			if !ok {
				t.Fatalf("expected Failed, got %#v", outcome)
			}
			if f.Reason != tc.reason {
				t.Fatalf("reason=%q want %q", f.Reason, tc.reason)
			}
		})
	}
}

func TestExecute_UnknownProviderFails(t *testing.T) {
	exec := newExecutor(&synth.MockProvider{})
	exec.Provider = "missing"
	outcome := exec.Execute(context.Background(), testJob())
	f, ok := outcome.(tryon.Failed)
	if !ok || !strings.HasPrefix(f.Reason, "no provider") {
		t.Fatalf("outcome=%#v", outcome)
	}
}

type harness struct {
	svc    *tryon.Service
	ledger *credits.Ledger
}

func newHarness(t *testing.T, grant credits.Grant) *harness {
	t.Helper()
	db := openTestDB(t)
	ledger := credits.NewLedger(db)
	clock := &tickClock{t: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	svc := tryon.NewService(db, tryon.NewRepo(db), ledger,
		tryon.WithStartingGrant(grant),
		tryon.WithClock(clock.Now),
	)
	return &harness{svc: svc, ledger: ledger}
}

func (h *harness) submit(t *testing.T, owner string) *tryon.Job {
	t.Helper()
	job, _, err := h.svc.Submit(context.Background(), tryon.SubmitInput{
		OwnerID:     owner,
		Kind:        "image",
		Inputs:      []string{"inputs/person.jpg", "inputs/shirt.jpg"},
		AspectRatio: "1:1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return job
}

func (h *harness) imageCredits(t *testing.T, owner string) int {
	t.Helper()
	b, err := h.svc.Balance(context.Background(), owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b.ImageCredits
}

func TestHandle_SucceededKeepsDebit(t *testing.T) {
	h := newHarness(t, credits.Grant{Image: 3})
	job := h.submit(t, "u1")

	handler := NewHandler(h.svc, newExecutor(&synth.MockProvider{}), zerolog.Nop())
	if err := handler.Handle(context.Background(), job.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, err := h.svc.GetJob(context.Background(), job.ID, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != tryon.StatusSucceeded || got.ResultRef == nil {
		t.Fatalf("job=%+v", got)
	}
	if n := h.imageCredits(t, "u1"); n != 2 {
		t.Fatalf("credits=%d want 2", n)
	}

	// redelivery is a no-op
	if err := handler.Handle(context.Background(), job.ID); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if n := h.imageCredits(t, "u1"); n != 2 {
		t.Fatalf("credits=%d after redelivery", n)
	}
}

func TestHandle_FailureRefunds(t *testing.T) {
	h := newHarness(t, credits.Grant{Image: 1})
	job := h.submit(t, "u1")

	handler := NewHandler(h.svc, newExecutor(&synth.MockProvider{Err: errors.New("gpu out of memory")}), zerolog.Nop())
	if err := handler.Handle(context.Background(), job.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, err := h.svc.GetJob(context.Background(), job.ID, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != tryon.StatusFailed || got.Error == nil || !strings.Contains(*got.Error, "gpu out of memory") {
		t.Fatalf("job=%+v", got)
	}
	if n := h.imageCredits(t, "u1"); n != 1 {
		t.Fatalf("credits=%d want refund to 1", n)
	}
}

func TestHandle_UnknownJobIsAcked(t *testing.T) {
	h := newHarness(t, credits.Grant{Image: 1})
	handler := NewHandler(h.svc, newExecutor(&synth.MockProvider{}), zerolog.Nop())
	if err := handler.Handle(context.Background(), "01HNOPE0000000000000000000"); err != nil {
		t.Fatalf("expected nil for unknown job, got %v", err)
	}
}

func TestHandle_CanceledContextLeavesJobGenerating(t *testing.T) {
	h := newHarness(t, credits.Grant{Image: 1})
	job := h.submit(t, "u1")

	ctx, cancel := context.WithCancel(context.Background())
	exec := newExecutor(providerFunc(func(c context.Context, req synth.Request) (synth.Result, error) {
		cancel()
		return synth.Result{}, c.Err()
	}))
	handler := NewHandler(h.svc, exec, zerolog.Nop())
	if err := handler.Handle(ctx, job.ID); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	got, err := h.svc.GetJob(context.Background(), job.ID, "u1")
	if err != nil || got.Status != tryon.StatusGenerating {
		t.Fatalf("job=%+v err=%v", got, err)
	}
}

func TestLocal_RunsDispatchedJobs(t *testing.T) {
	h := newHarness(t, credits.Grant{Image: 3})
	handler := NewHandler(h.svc, newExecutor(&synth.MockProvider{}), zerolog.Nop())
	local := NewLocal(context.Background(), handler, 2, zerolog.Nop())
	h.svc.SetDispatcher(local)

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, h.submit(t, "u1").ID)
	}
	local.Wait()

	for _, id := range ids {
		got, err := h.svc.GetJob(context.Background(), id, "u1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != tryon.StatusSucceeded {
			t.Fatalf("job %s status=%s", id, got.Status)
		}
	}
}

func TestLocal_StoppedDispatcherRefunds(t *testing.T) {
	h := newHarness(t, credits.Grant{Image: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	handler := NewHandler(h.svc, newExecutor(&synth.MockProvider{}), zerolog.Nop())
	h.svc.SetDispatcher(NewLocal(ctx, handler, 1, zerolog.Nop()))

	job := h.submit(t, "u1")
	if job.Status != tryon.StatusFailed {
		t.Fatalf("status=%s", job.Status)
	}
	if n := h.imageCredits(t, "u1"); n != 1 {
		t.Fatalf("credits=%d want 1", n)
	}
}

func TestReaper_FailsStaleJobs(t *testing.T) {
	h := newHarness(t, credits.Grant{Image: 2})
	stale := h.submit(t, "u1")
	done := h.submit(t, "u1")
	if _, err := h.svc.Complete(context.Background(), done.ID, tryon.Succeeded{ResultRef: "out.png"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	r := &Reaper{Jobs: h.svc, StaleAfter: 0, Logger: zerolog.Nop()}
	n, err := r.ReapOnce(context.Background())
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if n != 1 {
		t.Fatalf("reaped=%d want 1", n)
	}
	got, err := h.svc.GetJob(context.Background(), stale.ID, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != tryon.StatusFailed || *got.Error != reasonTimedOut {
		t.Fatalf("job=%+v", got)
	}
	if n := h.imageCredits(t, "u1"); n != 1 {
		t.Fatalf("credits=%d want 1", n)
	}

	// nothing left
	if n, _ := r.ReapOnce(context.Background()); n != 0 {
		t.Fatalf("second reap moved %d jobs", n)
	}
}
