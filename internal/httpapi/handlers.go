package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"wablast/internal/dispatch"
	"wablast/internal/ingest"
	"wablast/internal/storage"
	logx "wablast/pkg/logx"
)

// Every response carries the same envelope the previous tooling consumed:
// success flag plus an optional message, with payload fields alongside.
func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "message": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"session":  s.session.Snapshot(),
		"progress": s.dispatch.Progress(),
		"summary":  s.dispatch.Summary(),
	})
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	st := s.session.Snapshot()
	if st.PairingCode == "" {
		writeErr(w, http.StatusNotFound, "no pairing code available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "qr": st.PairingCode})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid upload: "+err.Error())
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	recipients, err := ingest.Parse(file)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.dispatch.SetRecipients(recipients); err != nil {
		writeErr(w, http.StatusConflict, err.Error())
		return
	}
	s.log.Info("roster loaded", logx.Int("total", len(recipients)))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "total": len(recipients)})
}

func (s *Server) handleRecipients(w http.ResponseWriter, r *http.Request) {
	rs := s.dispatch.Recipients()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"total":      len(rs),
		"recipients": rs,
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Start(); err != nil {
		switch {
		case errors.Is(err, dispatch.ErrNotConnected):
			writeErr(w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, dispatch.ErrPassActive):
			writeErr(w, http.StatusConflict, err.Error())
		case errors.Is(err, dispatch.ErrNoRecipients), errors.Is(err, dispatch.ErrNoImage):
			writeErr(w, http.StatusBadRequest, err.Error())
		default:
			writeErr(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "message": "dispatch started"})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"progress": s.dispatch.Progress(),
		"summary":  s.dispatch.Summary(),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatch.Reset(); err != nil {
		writeErr(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "roster cleared"})
}

func (s *Server) handleSessionRestart(w http.ResponseWriter, r *http.Request) {
	s.session.Repair()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "session restart requested"})
}

// handleImage serves the campaign image so the operator can preview what
// a pass will send. Falls back the same way the dispatcher does.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	for _, path := range []string{s.cfg.ImagePath, s.cfg.FallbackImagePath} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			http.ServeFile(w, r, path)
			return
		}
	}
	writeErr(w, http.StatusNotFound, "campaign image not found")
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeErr(w, http.StatusNotFound, "history disabled")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeErr(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	passes, err := s.history.History(r.Context(), limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if passes == nil {
		passes = []storage.PassRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "passes": passes})
}

func (s *Server) handleHistoryPass(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeErr(w, http.StatusNotFound, "history disabled")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid pass id")
		return
	}
	rec, err := s.history.Pass(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "pass not found")
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "pass": rec})
}
