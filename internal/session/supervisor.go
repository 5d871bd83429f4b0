package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"wablast/internal/eventbus"
	"wablast/internal/retry"
	"wablast/internal/transport"
	logx "wablast/pkg/logx"
)

// Supervisor owns the single logical session: it drives establishment,
// translates transport events into State transitions, classifies closes,
// and schedules reconnects with exponential backoff.
//
// Run() is the only writer of the state fields. Everything exported is safe
// for concurrent use.
type Supervisor struct {
	cfg    Config
	client transport.Client
	log    logx.Logger
	bus    eventbus.Bus

	backoff retry.Exponential

	mu             sync.Mutex
	state          State
	pairing        string
	lastDisconnect string
	attempts       int
	connectedAt    time.Time

	// repairCh wakes the loop out of Disconnected (after logout) or
	// Exhausted and restarts establishment with a reset policy.
	repairCh chan struct{}
}

func New(cfg Config, client transport.Client, log logx.Logger, bus eventbus.Bus) *Supervisor {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Supervisor{
		cfg:      cfg,
		client:   client,
		log:      log,
		bus:      bus,
		backoff:  retry.Exponential{Base: cfg.ReconnectBase, Cap: cfg.ReconnectCap},
		state:    StateDisconnected,
		repairCh: make(chan struct{}, 1),
	}
}

// ---- read side ----

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) Ready() bool { return s.State() == StateConnected }

func (s *Supervisor) PairingCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pairing
}

func (s *Supervisor) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:          s.state,
		Connected:      s.state == StateConnected,
		PairingCode:    s.pairing,
		LastDisconnect: s.lastDisconnect,
		Attempts:       s.attempts,
		ConnectedAt:    s.connectedAt,
	}
}

// Send delivers one message through the live session. It fails immediately
// with ErrNotReady when the session is down; it never queues.
func (s *Supervisor) Send(ctx context.Context, target string, msg transport.Message) error {
	if !s.Ready() {
		return ErrNotReady
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	return s.client.Send(ctx, target, msg)
}

// Repair requests a fresh establishment cycle after a logout or after the
// reconnect budget was exhausted. Safe to call at any time; coalesces.
func (s *Supervisor) Repair() {
	select {
	case s.repairCh <- struct{}{}:
	default:
	}
}

// ---- state machine ----

// Run drives the session until ctx is canceled. It is the supervisor's
// control loop; start it exactly once.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		events, err := s.client.Connect(ctx)
		if err != nil {
			// Unrecoverable init errors (e.g. credential store corruption)
			// are fatal for this attempt but follow the same backoff rules
			// as a transient close.
			s.log.Error("session init failed", logx.Err(err))
			if cont := s.afterTransientClose(ctx, err.Error()); !cont {
				return ctx.Err()
			}
			continue
		}

		reason, cont := s.consume(ctx, events)
		if !cont {
			return ctx.Err()
		}
		if reason.LoggedOut {
			if !s.awaitRepairAfterLogout(ctx) {
				return ctx.Err()
			}
			continue
		}
		if cont := s.afterTransientClose(ctx, closeText(reason)); !cont {
			return ctx.Err()
		}
	}
}

// consume processes one event stream until it ends. It returns the close
// classification and whether the loop should keep running.
func (s *Supervisor) consume(ctx context.Context, events <-chan transport.Event) (transport.CloseInfo, bool) {
	for {
		select {
		case <-ctx.Done():
			return transport.CloseInfo{}, false
		case ev, ok := <-events:
			if !ok {
				// Stream ended without an explicit close: transient.
				return transport.CloseInfo{Err: errors.New("event stream ended")}, true
			}
			switch ev.Kind {
			case transport.EventPairing:
				s.setPairing(ev.Pairing)
			case transport.EventOpen:
				s.setConnected()
				s.probe(ctx)
			case transport.EventClose:
				info := transport.CloseInfo{}
				if ev.Close != nil {
					info = *ev.Close
				}
				s.onClose(ctx, info)
				return info, true
			}
		}
	}
}

func (s *Supervisor) setPairing(code string) {
	s.mu.Lock()
	s.state = StateAwaitingPairing
	s.pairing = code
	s.mu.Unlock()

	s.log.Info("pairing code issued; scan it to authorize the session")
	s.publish(eventbus.TypeSessionQR, map[string]string{"qr": code})
}

func (s *Supervisor) setConnected() {
	s.mu.Lock()
	s.state = StateConnected
	s.pairing = ""
	s.lastDisconnect = ""
	s.attempts = 0
	s.connectedAt = time.Now()
	s.mu.Unlock()

	s.log.Info("session established")
	s.publish(eventbus.TypeSessionConnected, nil)
}

func (s *Supervisor) onClose(ctx context.Context, info transport.CloseInfo) {
	reason := closeText(info)

	s.mu.Lock()
	s.pairing = ""
	s.lastDisconnect = reason
	s.connectedAt = time.Time{}
	if info.LoggedOut {
		s.state = StateDisconnected
	}
	s.mu.Unlock()

	s.log.Warn("session closed", logx.String("reason", reason), logx.Int("code", info.Code), logx.Bool("logged_out", info.LoggedOut))
	s.publish(eventbus.TypeSessionClosed, map[string]any{"reason": reason, "logged_out": info.LoggedOut})

	if info.LoggedOut {
		// Credentials are void; wipe them so the next establishment issues
		// a fresh pairing code.
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := s.client.ClearCredentials(wctx); err != nil {
			s.log.Error("credential wipe failed", logx.Err(err))
		}
		cancel()
	}
}

// afterTransientClose applies the backoff policy: bump the attempt count,
// go Exhausted when the next attempt would exceed the budget, otherwise
// sleep the doubled delay in Reconnecting. Returns false when ctx ended.
func (s *Supervisor) afterTransientClose(ctx context.Context, reason string) bool {
	s.mu.Lock()
	s.attempts++
	attempts := s.attempts
	s.pairing = ""
	s.lastDisconnect = reason
	exhausted := attempts >= s.cfg.MaxAttempts
	if exhausted {
		s.state = StateExhausted
	} else {
		s.state = StateReconnecting
	}
	s.mu.Unlock()

	if exhausted {
		s.log.Error("reconnect attempts exhausted; manual restart required",
			logx.Int("attempts", attempts), logx.Int("max", s.cfg.MaxAttempts))
		s.publish(eventbus.TypeSessionExhausted, map[string]int{"attempts": attempts})
		return s.awaitRepair(ctx)
	}

	delay := s.backoff.Delay(attempts)
	s.log.Info("reconnect scheduled", logx.Int("attempt", attempts), logx.Duration("delay", delay))

	tmr := time.NewTimer(delay)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.repairCh:
		// Operator asked for an immediate fresh cycle.
		s.resetPolicy()
		return true
	case <-tmr.C:
		return true
	}
}

func (s *Supervisor) awaitRepairAfterLogout(ctx context.Context) bool {
	s.log.Warn("session logged out; re-pairing required")
	return s.awaitRepair(ctx)
}

// awaitRepair blocks until Repair() or ctx cancellation. On repair the
// policy resets so establishment starts from a clean slate.
func (s *Supervisor) awaitRepair(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.repairCh:
		s.resetPolicy()
		return true
	}
}

func (s *Supervisor) resetPolicy() {
	s.mu.Lock()
	s.attempts = 0
	s.pairing = ""
	s.lastDisconnect = ""
	s.state = StateDisconnected
	s.mu.Unlock()
}

// probe sends a connectivity message on the broadcast channel. Best-effort.
func (s *Supervisor) probe(ctx context.Context) {
	text := s.cfg.ProbeText
	if text == "" {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	if err := s.client.Send(pctx, transport.BroadcastTarget, transport.Message{Caption: text}); err != nil {
		s.log.Warn("connectivity probe failed", logx.Err(err))
		return
	}
	s.log.Debug("connectivity probe sent")
}

func (s *Supervisor) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func closeText(info transport.CloseInfo) string {
	switch {
	case info.LoggedOut:
		return "logged out"
	case info.Err != nil:
		return info.Err.Error()
	case info.Code != 0:
		return "connection closed (" + strconv.Itoa(info.Code) + ")"
	default:
		return "connection closed"
	}
}
