// Package httpapi exposes the operator HTTP surface: session status and
// pairing, roster upload, dispatch control and pass history.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"wablast/internal/dispatch"
	"wablast/internal/session"
	"wablast/internal/storage"
	logx "wablast/pkg/logx"
)

// Session is the slice of the session supervisor the API reads.
type Session interface {
	Snapshot() session.Status
	Repair()
}

// Dispatcher is the roster/pass surface the API drives.
type Dispatcher interface {
	SetRecipients([]dispatch.Recipient) error
	Recipients() []dispatch.Recipient
	Reset() error
	Progress() dispatch.Progress
	Summary() dispatch.Summary
}

// Runner starts an asynchronous dispatch pass. Precondition failures are
// returned synchronously; the pass itself runs in the background.
type Runner interface {
	Start() error
}

// History reads persisted passes. May be nil when storage is disabled.
type History interface {
	History(ctx context.Context, limit int) ([]storage.PassRecord, error)
	Pass(ctx context.Context, id int64) (storage.PassRecord, error)
}

type Config struct {
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxUploadBytes caps spreadsheet uploads.
	MaxUploadBytes int64

	// StaticDir holds the operator page assets. Empty disables static
	// serving; the JSON API keeps working either way.
	StaticDir string

	// ImagePath and FallbackImagePath let the operator preview the
	// campaign image at GET /image.
	ImagePath         string
	FallbackImagePath string
}

type Server struct {
	cfg Config
	log logx.Logger

	session  Session
	dispatch Dispatcher
	runner   Runner
	history  History

	srv *http.Server
}

func New(cfg Config, log logx.Logger, sess Session, disp Dispatcher, runner Runner, hist History) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	s := &Server{
		cfg:      cfg,
		log:      log,
		session:  sess,
		dispatch: disp,
		runner:   runner,
		history:  hist,
	}
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler builds the router. Exposed for httptest.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/qr", s.handleQR)

	r.Post("/upload", s.handleUpload)
	r.Get("/recipients", s.handleRecipients)
	r.Post("/send", s.handleSend)
	r.Get("/progress", s.handleProgress)
	r.Post("/reset", s.handleReset)

	r.Post("/session/restart", s.handleSessionRestart)

	r.Get("/history", s.handleHistory)
	r.Get("/history/{id}", s.handleHistoryPass)

	r.Get("/image", s.handleImage)
	if s.cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}

	return r
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http api listening", logx.String("addr", s.cfg.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(sctx)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
		)
	})
}
