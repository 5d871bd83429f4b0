package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"wablast/internal/eventbus"
	"wablast/internal/retry"
	"wablast/internal/transport"
	logx "wablast/pkg/logx"
)

var (
	// ErrPassActive rejects a second pass while one is running.
	ErrPassActive = errors.New("dispatch: a pass is already running")
	// ErrNotConnected rejects a pass while the session is down.
	ErrNotConnected = errors.New("dispatch: session not ready")
	// ErrNoRecipients rejects a pass over an empty roster.
	ErrNoRecipients = errors.New("dispatch: no recipients loaded")
	// ErrNoImage rejects a pass when the campaign image is missing.
	ErrNoImage = errors.New("dispatch: campaign image not found")
)

// Sender is the slice of the session supervisor the pipeline needs.
type Sender interface {
	Ready() bool
	Send(ctx context.Context, target string, msg transport.Message) error
}

// Recorder persists finished passes. Optional; best-effort.
type Recorder interface {
	RecordPass(ctx context.Context, summary Summary, recipients []Recipient) error
}

// Config tunes one dispatch pass.
type Config struct {
	// Template is the caption with {nombre}/{codigo}/{vencimiento} tokens.
	Template string
	// ImagePath is the campaign image; FallbackImagePath is tried when the
	// primary is absent.
	ImagePath         string
	FallbackImagePath string
	// MessageDelay is the fixed inter-message pacing between deliveries.
	MessageDelay time.Duration
	// RetryAttempts is the total delivery attempts per recipient (the
	// second attempt follows the first immediately).
	RetryAttempts int
}

func (c Config) withDefaults() Config {
	if c.MessageDelay <= 0 {
		c.MessageDelay = 2 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 2
	}
	return c
}

// Service drives dispatch passes over the loaded roster.
//
// The roster is exclusively owned by the running pass; a guard enforces
// single-pass-at-a-time, so read-only queries outside a pass are safe.
type Service struct {
	log logx.Logger
	bus eventbus.Bus
	rec Recorder

	sender Sender

	mu         sync.Mutex
	cfg        Config
	recipients []Recipient
	running    bool
	progress   Progress
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus, rec Recorder) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		sender: sender,
		log:    log,
		bus:    bus,
		rec:    rec,
	}
}

// Apply swaps the pass configuration (template, pacing, image) at runtime.
// A pass that is already running keeps its snapshot.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

// SetRecipients replaces the roster. Rejected while a pass is running.
func (s *Service) SetRecipients(rs []Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrPassActive
	}
	cp := make([]Recipient, len(rs))
	copy(cp, rs)
	for i := range cp {
		cp[i].Status = StatusPending
		cp[i].Reason = ""
	}
	s.recipients = cp
	s.progress = Progress{Total: len(cp)}
	return nil
}

// Recipients returns a copy of the roster with current statuses.
func (s *Service) Recipients() []Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Recipient(nil), s.recipients...)
}

// Reset discards the roster and its statuses. Idempotent; rejected only
// while a pass is running.
func (s *Service) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrPassActive
	}
	s.recipients = nil
	s.progress = Progress{}
	return nil
}

// Progress reports the running pass (or the last finished one).
func (s *Service) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Summary recomputes the aggregate from the roster at any time.
func (s *Service) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summarize(s.recipients)
}

// passPlan is the immutable input of one pass, fixed at preflight time.
type passPlan struct {
	cfg   Config
	image []byte
	mime  string
	total int
}

// begin checks preconditions and claims the running flag. No roster
// mutation happens before every check has passed.
func (s *Service) begin() (passPlan, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return passPlan{}, ErrPassActive
	}
	if !s.sender.Ready() {
		s.mu.Unlock()
		return passPlan{}, ErrNotConnected
	}
	if len(s.recipients) == 0 {
		s.mu.Unlock()
		return passPlan{}, ErrNoRecipients
	}
	cfg := s.cfg
	total := len(s.recipients)
	s.mu.Unlock()

	image, mime, err := loadImage(cfg)
	if err != nil {
		return passPlan{}, err
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return passPlan{}, ErrPassActive
	}
	s.running = true
	s.progress = Progress{Running: true, Total: total}
	s.mu.Unlock()

	return passPlan{cfg: cfg, image: image, mime: mime, total: total}, nil
}

// Run drives exactly one full pass over the roster, in order, to completion.
//
// Preconditions (checked before any mutation): no pass active, session
// ready, roster non-empty, campaign image readable. Per-recipient failures
// never abort the pass; cancellation between recipients returns a partial
// summary and leaves unprocessed recipients pending.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	plan, err := s.begin()
	if err != nil {
		return Summary{}, err
	}
	return s.execute(ctx, plan)
}

// Start checks preconditions synchronously and, on success, runs the pass
// in the background. The HTTP and cron triggers use this.
func (s *Service) Start(ctx context.Context) error {
	plan, err := s.begin()
	if err != nil {
		return err
	}
	go func() { _, _ = s.execute(ctx, plan) }()
	return nil
}

func (s *Service) execute(ctx context.Context, plan passPlan) (Summary, error) {
	cfg, total := plan.cfg, plan.total

	start := time.Now()
	s.log.Info("dispatch pass started", logx.Int("total", total))
	s.publish(eventbus.TypeDispatchStarted, Progress{Running: true, Total: total})

	summary, runErr := s.runPass(ctx, cfg, plan.image, plan.mime)

	s.mu.Lock()
	s.running = false
	s.progress.Running = false
	s.mu.Unlock()

	fields := []logx.Field{
		logx.Int("sent", summary.Sent),
		logx.Int("errors", summary.Errors),
		logx.Int("total", summary.Total),
		logx.Int("success_rate", summary.SuccessRate),
		logx.Duration("took", time.Since(start)),
	}
	if summary.Errors > 0 {
		s.log.Warn("dispatch pass finished with errors", fields...)
	} else {
		s.log.Info("dispatch pass finished", fields...)
	}
	s.publish(eventbus.TypeDispatchDone, summary)

	if s.rec != nil {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.rec.RecordPass(rctx, summary, s.Recipients()); err != nil {
			s.log.Warn("pass history not recorded", logx.Err(err))
		}
		cancel()
	}
	return summary, runErr
}

func (s *Service) runPass(ctx context.Context, cfg Config, image []byte, mime string) (Summary, error) {
	// Burst 1 means the first delivery goes out immediately and every
	// later one waits out the fixed inter-message delay. Validation
	// rejects never consume a token, so they add no pacing cost.
	limiter := rate.NewLimiter(rate.Every(cfg.MessageDelay), 1)

	total := len(s.Recipients())
	for i := 0; i < total; i++ {
		// Checked cancellation point between iterations: unprocessed
		// recipients keep their prior status.
		if err := ctx.Err(); err != nil {
			return s.Summary(), err
		}

		r := s.snapshotRecipient(i)
		s.setProgress(i, r.Name)

		if err := Validate(&r); err != nil {
			s.log.Warn("recipient rejected", logx.Int("index", i), logx.String("name", r.Name), logx.Err(err))
			s.finishRecipient(i, r, StatusError, err.Error())
			continue
		}

		caption := Render(cfg.Template, r)
		msg := transport.Message{Image: image, Mime: mime, Caption: caption}

		if err := limiter.Wait(ctx); err != nil {
			return s.Summary(), err
		}

		attempt := 0
		err := retry.Do(ctx, retry.Policy{MaxAttempts: cfg.RetryAttempts}, func(c context.Context) error {
			attempt++
			if sendErr := s.sender.Send(c, r.Phone, msg); sendErr != nil {
				s.log.Warn("delivery attempt failed",
					logx.Int("index", i), logx.String("phone", r.Phone),
					logx.Int("attempt", attempt), logx.Err(sendErr))
				return sendErr
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				// Canceled mid-delivery: keep the recipient pending.
				return s.Summary(), ctx.Err()
			}
			// The retained reason is the last attempt's failure.
			s.finishRecipient(i, r, StatusError, err.Error())
			continue
		}
		s.finishRecipient(i, r, StatusSent, "")
	}
	return s.Summary(), nil
}

func (s *Service) snapshotRecipient(i int) Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recipients[i]
}

func (s *Service) setProgress(i int, name string) {
	s.mu.Lock()
	s.progress.Index = i
	s.progress.Current = name
	p := s.progress
	s.mu.Unlock()
	s.publish(eventbus.TypeDispatchProgress, p)
}

// finishRecipient records the single status mutation for recipient i.
func (s *Service) finishRecipient(i int, r Recipient, st Status, reason string) {
	r.Status = st
	r.Reason = reason

	s.mu.Lock()
	s.recipients[i] = r
	if st == StatusSent {
		s.progress.Sent++
	} else {
		s.progress.Errors++
	}
	p := s.progress
	s.mu.Unlock()
	s.publish(eventbus.TypeDispatchProgress, p)
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func loadImage(cfg Config) ([]byte, string, error) {
	for _, path := range []string{cfg.ImagePath, cfg.FallbackImagePath} {
		if strings.TrimSpace(path) == "" {
			continue
		}
		b, err := os.ReadFile(path)
		if err == nil {
			return b, mimeFor(path), nil
		}
		if !os.IsNotExist(err) {
			return nil, "", fmt.Errorf("dispatch: reading campaign image %s: %w", path, err)
		}
	}
	return nil, "", ErrNoImage
}

func mimeFor(path string) string {
	switch {
	case strings.HasSuffix(strings.ToLower(path), ".jpg"),
		strings.HasSuffix(strings.ToLower(path), ".jpeg"):
		return "image/jpeg"
	default:
		return "image/png"
	}
}
