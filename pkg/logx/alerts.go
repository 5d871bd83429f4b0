package logx

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

// alertSink is a zerolog sink that forwards WARN+ lines to a Telegram chat.
//
// Contract:
//   - WriteLevel never blocks the logging path; delivery runs on its own
//     goroutine and the queue drops on overflow.
//   - A rate limiter caps outbound alerts so a flapping session can't spam
//     the operator chat.
type alertSink struct {
	mu       sync.Mutex
	bot      *tele.Bot
	chatID   int64
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue chan string
	stop  chan struct{}
	wg    sync.WaitGroup
}

func newAlertSink(cfg AlertConfig) (*alertSink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("alerts.token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("alerts.chat_id is not set")
	}
	// Send-only bot; no poller is started.
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: false})
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}

	a := &alertSink{
		bot:   bot,
		queue: make(chan string, 64),
		stop:  make(chan struct{}),
	}
	a.apply(cfg)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.deliverLoop()
	}()
	return a, nil
}

func (a *alertSink) apply(cfg AlertConfig) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	a.mu.Lock()
	a.chatID = cfg.ChatID
	a.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	a.mu.Unlock()
}

func (a *alertSink) close() {
	close(a.stop)
	a.wg.Wait()
}

func (a *alertSink) deliverLoop() {
	for {
		select {
		case <-a.stop:
			return
		case msg := <-a.queue:
			a.mu.Lock()
			bot := a.bot
			chatID := a.chatID
			a.mu.Unlock()
			if bot == nil || chatID == 0 {
				continue
			}
			_, _ = bot.Send(tele.ChatID(chatID), msg)
		}
	}
}

func (a *alertSink) Write(p []byte) (int, error) {
	return a.WriteLevel(zerolog.InfoLevel, p)
}

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	min := a.minLevel
	lim := a.limiter
	a.mu.Unlock()

	if level < min || lim == nil || !lim.Allow() {
		return len(p), nil
	}

	msg := formatAlert(p)
	if msg == "" {
		return len(p), nil
	}
	select {
	case a.queue <- msg:
	default:
		// drop
	}
	return len(p), nil
}

// formatAlert renders a zerolog JSON line as a short plain-text message.
func formatAlert(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), 3500)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[")
		b.WriteString(strings.ToUpper(lvl))
		b.WriteString("] ")
	}
	b.WriteString(msg)

	for k, v := range m {
		switch k {
		case "time", "level", "message", "caller":
			continue
		}
		b.WriteString("\n- ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(truncate(fmt.Sprint(v), 600))
	}
	return truncate(b.String(), 3500)
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}

var _ zerolog.LevelWriter = (*alertSink)(nil)
