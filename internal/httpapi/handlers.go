package httpapi

import (
	"net/http"
	"time"

	"github.com/LotuxPunk/Hermes"
)

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Uptime  string            `json:"uptime"`
	Queue   hermes.QueueStats `json:"queue"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: hermes.GetVersionInfo().Version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
		Queue:   s.dispatcher.QueueStats(),
	})
}

func (s *Server) handleSendMail(w http.ResponseWriter, r *http.Request) {
	var input hermes.MailInput
	if err := decodeJSON(w, r, &input); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	result, err := s.dispatcher.SendMail(r.Context(), &input)
	if err != nil {
		s.respondDispatchError(w, r, err)
		return
	}
	respondResult(w, result)
}

func (s *Server) handleSendMails(w http.ResponseWriter, r *http.Request) {
	var inputs []hermes.MailInput
	if err := decodeJSON(w, r, &inputs); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	result, err := s.dispatcher.SendMails(r.Context(), inputs)
	if err != nil {
		s.respondDispatchError(w, r, err)
		return
	}
	respondResult(w, result)
}

func (s *Server) handleSendContactForm(w http.ResponseWriter, r *http.Request) {
	var form hermes.ContactForm
	if err := decodeJSON(w, r, &form); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	result, err := s.dispatcher.SendContactForm(r.Context(), &form)
	if err != nil {
		s.respondDispatchError(w, r, err)
		return
	}
	respondResult(w, result)
}

func (s *Server) handleGetChallenge(w http.ResponseWriter, r *http.Request) {
	configID := r.URL.Query().Get("configId")
	if configID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "configId is required")
		return
	}

	challenge, err := s.dispatcher.GetChallenge(r.Context(), configID)
	if err != nil {
		s.respondDispatchError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, challenge)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.dispatcher.QueueStats())
}

// respondDispatchError hides internal error details from clients.
func (s *Server) respondDispatchError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		message = http.StatusText(status)
	}
	respondError(w, status, code, message)
}
