package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	scripting "github.com/goliatone/go-scripting"
)

const maxBodyBytes = 1 << 20

type submitRequest struct {
	Code      string `json:"code"`
	Reference string `json:"reference,omitempty"`
}

type scriptView struct {
	ID         string         `json:"id"`
	Status     string         `json:"status"`
	Value      any            `json:"value,omitempty"`
	Error      *ErrorEnvelope `json:"error,omitempty"`
	Reference  string         `json:"reference,omitempty"`
	Submitted  time.Time      `json:"submitted_at"`
	DurationMS int64          `json:"duration_ms,omitempty"`
}

type engineView struct {
	ID              string `json:"id"`
	State           string `json:"state"`
	QueueLength     int    `json:"queue_length"`
	Idle            bool   `json:"idle"`
	TerminateOnIdle bool   `json:"terminate_on_idle"`
	CurrentScript   string `json:"current_script,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	state := s.engine.State()
	status := http.StatusOK
	if state != scripting.StateRunning {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"status": state.String()})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	script, err := decodeScript(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	s.results.put(script)
	s.engine.Submit(script)

	w.Header().Set("Location", "/v1/scripts/"+script.ID())
	writeJSON(w, http.StatusAccepted, map[string]string{"id": script.ID(), "status": "pending"})
}

func (s *Server) handleSubmitSync(w http.ResponseWriter, r *http.Request) {
	script, err := decodeScript(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.syncTimeout)
	defer cancel()

	s.results.put(script)
	if _, err := s.engine.SubmitScriptSync(ctx, script); err != nil {
		if scripting.IsEngineNotStarted(err) {
			s.results.remove(script.ID())
			writeError(w, err)
			return
		}
		writeJSON(w, MapError(err), s.view(script.ID()))
		return
	}

	view := s.view(script.ID())
	status := http.StatusOK
	if view.Error != nil {
		status = MapError(script.Result().Err())
	}
	writeJSON(w, status, view)
}

func (s *Server) handleGetScript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.results.get(id); !ok {
		writeJSON(w, http.StatusNotFound, ErrorEnvelope{Code: "SCRIPT_NOT_FOUND", Message: "script not found"})
		return
	}
	writeJSON(w, http.StatusOK, s.view(id))
}

func (s *Server) handleForgetScript(w http.ResponseWriter, r *http.Request) {
	if !s.results.remove(chi.URLParam(r, "id")) {
		writeJSON(w, http.StatusNotFound, ErrorEnvelope{Code: "SCRIPT_NOT_FOUND", Message: "script not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEngineStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engineView())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Reset(r.Context()); err != nil {
		s.logger.Warn("engine reset reported errors: %v", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engineView())
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	s.engine.Terminate()
	writeJSON(w, http.StatusAccepted, s.engineView())
}

func (s *Server) engineView() engineView {
	view := engineView{
		ID:              s.engine.ID(),
		State:           s.engine.State().String(),
		QueueLength:     s.engine.QueueLength(),
		Idle:            s.engine.IsIdle(),
		TerminateOnIdle: s.engine.TerminateOnIdle(),
	}
	if current := s.engine.CurrentScript(); current != nil {
		view.CurrentScript = current.ID()
	}
	return view
}

func (s *Server) view(id string) scriptView {
	entry, ok := s.results.get(id)
	if !ok {
		return scriptView{ID: id, Status: "unknown"}
	}

	result := entry.script.Result()
	view := scriptView{
		ID:        id,
		Status:    "pending",
		Reference: scripting.ReferenceName(entry.script.Reference()),
		Submitted: entry.submitted,
	}
	select {
	case <-result.Done():
	default:
		return view
	}

	view.Status = result.Kind().String()
	if err := result.Err(); err != nil {
		env := envelope(err)
		view.Error = &env
	} else {
		view.Value, _ = result.Value()
	}
	if d, ok := result.GetMetadata("duration"); ok {
		if duration, ok := d.(time.Duration); ok {
			view.DurationMS = duration.Milliseconds()
		}
	}
	return view
}

// decodeScript accepts a JSON body or, for any other content type, the raw
// body as code. Bodies over maxBodyBytes are rejected, never truncated.
func decodeScript(w http.ResponseWriter, r *http.Request) (*scripting.Script, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, invalidInput(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), err)
		}
		return nil, invalidInput("could not read request body", err)
	}

	req := submitRequest{Code: string(body)}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		req = submitRequest{}
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, invalidInput("request body is not valid JSON", err)
		}
	}
	if strings.TrimSpace(req.Code) == "" {
		return nil, invalidInput("code is required", nil)
	}

	var opts []scripting.ScriptOption
	if req.Reference != "" {
		opts = append(opts, scripting.WithReference(req.Reference))
	}
	return scripting.NewScript(req.Code, opts...), nil
}

func invalidInput(message string, source error) error {
	err := scripting.ErrInvalidInput.Clone()
	err.Message = message
	if source != nil {
		err.Source = source
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) {
		writeJSON(w, http.StatusServiceUnavailable, ErrorEnvelope{Code: "CANCELED", Message: err.Error()})
		return
	}
	writeJSON(w, MapError(err), envelope(err))
}
