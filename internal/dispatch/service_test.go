package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"wablast/internal/transport"
	logx "wablast/pkg/logx"
)

type sentMsg struct {
	target  string
	caption string
}

// fakeSender scripts per-target failures: failFirst[target] attempts fail
// before deliveries start succeeding.
type fakeSender struct {
	mu        sync.Mutex
	ready     bool
	failFirst map[string]int
	errText   func(target string, attempt int) string
	sent      []sentMsg
	attempts  map[string]int
	block     chan struct{} // when non-nil, Send waits until closed
}

func (f *fakeSender) Ready() bool { return f.ready }

func (f *fakeSender) Send(ctx context.Context, target string, msg transport.Message) error {
	f.mu.Lock()
	if f.attempts == nil {
		f.attempts = map[string]int{}
	}
	f.attempts[target]++
	n := f.attempts[target]
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFirst[target] >= n {
		if f.errText != nil {
			return errors.New(f.errText(target, n))
		}
		return fmt.Errorf("send failed (attempt %d)", n)
	}
	f.sent = append(f.sent, sentMsg{target: target, caption: msg.Caption})
	return nil
}

func (f *fakeSender) attemptCount(target string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[target]
}

func (f *fakeSender) sentMsgs() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.sent...)
}

func testImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "campaign.png")
	if err := os.WriteFile(path, []byte("not-really-a-png"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testService(t *testing.T, sender Sender) *Service {
	t.Helper()
	cfg := Config{
		Template:     "Hola {nombre}, tu codigo {codigo} vence el {vencimiento}.",
		ImagePath:    testImage(t),
		MessageDelay: time.Millisecond,
	}
	return New(cfg, sender, logx.Nop(), nil, nil)
}

func TestRunEmptyRosterFailsPrecondition(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{ready: true}
	svc := testService(t, fs)

	_, err := svc.Run(context.Background())
	if !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("err = %v, want ErrNoRecipients", err)
	}
	if len(fs.sentMsgs()) != 0 {
		t.Fatal("expected zero sends")
	}
}

func TestRunNotReadyFailsPrecondition(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{ready: false}
	svc := testService(t, fs)
	if err := svc.SetRecipients([]Recipient{{Name: "Ana", Phone: "5491122334455", Code: "C1", Expiry: "2025-01-01"}}); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Run(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	rs := svc.Recipients()
	if rs[0].Status != StatusPending {
		t.Fatalf("status = %s, want pending (unchanged)", rs[0].Status)
	}
	if fs.attemptCount("5491122334455") != 0 {
		t.Fatal("expected zero delivery attempts")
	}
}

func TestRunMissingImageFailsPrecondition(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{ready: true}
	svc := New(Config{Template: "x", ImagePath: "/nonexistent/a.png", MessageDelay: time.Millisecond}, fs, logx.Nop(), nil, nil)
	if err := svc.SetRecipients([]Recipient{{Name: "Ana", Phone: "5491122334455", Code: "C1", Expiry: "2025-01-01"}}); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Run(context.Background())
	if !errors.Is(err, ErrNoImage) {
		t.Fatalf("err = %v, want ErrNoImage", err)
	}
}

func TestRunMixedRoster(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{ready: true}
	svc := testService(t, fs)
	err := svc.SetRecipients([]Recipient{
		{Name: "Ana", Phone: "5491122334455", Code: "C1", Expiry: "2025-01-01"},
		{Name: "", Phone: "123", Code: "C2", Expiry: "2025-02-01"},
	})
	if err != nil {
		t.Fatal(err)
	}

	sum, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	want := Summary{Sent: 1, Errors: 1, Total: 2, SuccessRate: 50}
	if sum != want {
		t.Fatalf("summary = %+v, want %+v", sum, want)
	}

	rs := svc.Recipients()
	if rs[0].Status != StatusSent {
		t.Fatalf("recipient 0 status = %s, want sent", rs[0].Status)
	}
	if rs[1].Status != StatusError || rs[1].Reason == "" {
		t.Fatalf("recipient 1 = %+v, want error with reason", rs[1])
	}
	// The invalid recipient must not cause a delivery attempt.
	if fs.attemptCount("123") != 0 {
		t.Fatal("rejected recipient reached the transport")
	}
	if got := fs.attemptCount("5491122334455"); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}

	msgs := fs.sentMsgs()
	if len(msgs) != 1 || !strings.Contains(msgs[0].caption, "Hola Ana") || !strings.Contains(msgs[0].caption, "C1") {
		t.Fatalf("unexpected caption: %+v", msgs)
	}
}

func TestRetryOnceThenSucceed(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{ready: true, failFirst: map[string]int{"5491122334455": 1}}
	svc := testService(t, fs)
	if err := svc.SetRecipients([]Recipient{{Name: "Ana", Phone: "5491122334455", Code: "C1", Expiry: "2025-01-01"}}); err != nil {
		t.Fatal(err)
	}

	sum, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if sum.Sent != 1 || sum.Errors != 0 {
		t.Fatalf("summary = %+v, want 1 sent", sum)
	}
	if got := fs.attemptCount("5491122334455"); got != 2 {
		t.Fatalf("attempts = %d, want exactly 2", got)
	}
}

func TestBothAttemptsFailKeepsSecondReason(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{
		ready:     true,
		failFirst: map[string]int{"5491122334455": 2},
		errText: func(target string, attempt int) string {
			return fmt.Sprintf("boom %d", attempt)
		},
	}
	svc := testService(t, fs)
	if err := svc.SetRecipients([]Recipient{{Name: "Ana", Phone: "5491122334455", Code: "C1", Expiry: "2025-01-01"}}); err != nil {
		t.Fatal(err)
	}

	sum, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if sum.Errors != 1 {
		t.Fatalf("summary = %+v, want 1 error", sum)
	}
	rs := svc.Recipients()
	if rs[0].Status != StatusError || rs[0].Reason != "boom 2" {
		t.Fatalf("recipient = %+v, want error with reason %q", rs[0], "boom 2")
	}
	if got := fs.attemptCount("5491122334455"); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
}

func TestSecondPassRejectedWhileRunning(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	fs := &fakeSender{ready: true, block: block}
	svc := testService(t, fs)
	if err := svc.SetRecipients([]Recipient{{Name: "Ana", Phone: "5491122334455", Code: "C1", Expiry: "2025-01-01"}}); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := svc.Run(context.Background())
		done <- err
	}()

	// Wait until the first pass is inside a delivery.
	deadline := time.Now().Add(2 * time.Second)
	for fs.attemptCount("5491122334455") == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if _, err := svc.Run(context.Background()); !errors.Is(err, ErrPassActive) {
		t.Fatalf("err = %v, want ErrPassActive", err)
	}
	if err := svc.Reset(); !errors.Is(err, ErrPassActive) {
		t.Fatalf("Reset err = %v, want ErrPassActive", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first pass error: %v", err)
	}
	if svc.Progress().Running {
		t.Fatal("pass still reported as running after completion")
	}
}

func TestStartReportsPreconditionsSynchronously(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{ready: true}
	svc := testService(t, fs)

	if err := svc.Start(context.Background()); !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("Start = %v, want ErrNoRecipients", err)
	}

	if err := svc.SetRecipients([]Recipient{{Name: "Ana", Phone: "5491122334455", Code: "C1", Expiry: "2025-01-01"}}); err != nil {
		t.Fatal(err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for svc.Progress().Running || svc.Summary().Sent == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("background pass never finished: %+v", svc.Progress())
		}
		time.Sleep(time.Millisecond)
	}
	if got := svc.Summary(); got.Sent != 1 {
		t.Fatalf("summary = %+v, want 1 sent", got)
	}
}

func TestCancelBetweenRecipients(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{ready: true}
	svc := New(Config{
		Template:     "x",
		ImagePath:    testImage(t),
		MessageDelay: 250 * time.Millisecond,
	}, fs, logx.Nop(), nil, nil)
	err := svc.SetRecipients([]Recipient{
		{Name: "Ana", Phone: "5491122334455", Code: "C1", Expiry: "2025-01-01"},
		{Name: "Bruno", Phone: "5491199887766", Code: "C2", Expiry: "2025-03-01"},
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// Cancel while the pass paces before the second delivery.
		deadline := time.Now().Add(2 * time.Second)
		for fs.attemptCount("5491122334455") == 0 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	sum, err := svc.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if sum.Sent != 1 {
		t.Fatalf("partial summary = %+v, want 1 sent", sum)
	}
	rs := svc.Recipients()
	if rs[1].Status != StatusPending {
		t.Fatalf("unprocessed recipient status = %s, want pending", rs[1].Status)
	}
	if fs.attemptCount("5491199887766") != 0 {
		t.Fatal("send attempted after cancellation")
	}
}
