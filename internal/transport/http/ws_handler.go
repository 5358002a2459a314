package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"attempt-runner/internal/app"
	"attempt-runner/internal/auth"
	"attempt-runner/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const defaultWriteWait = 10 * time.Second

type WSHandler struct {
	service   *app.AttemptService
	log       zerolog.Logger
	upgrader  websocket.Upgrader
	writeWait time.Duration
}

func NewWSHandler(service *app.AttemptService, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		service:   service,
		log:       log,
		writeWait: defaultWriteWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID    domain.ID `json:"questionId"`
	Value         string    `json:"value"`
	AlternativeID domain.ID `json:"alternativeId"`
}

type quotaPayload struct {
	Remaining int `json:"remaining"`
}

type tickPayload struct {
	Remaining int `json:"remaining"`
}

type resultPayload struct {
	State     domain.SubmissionState `json:"state"`
	Notice    domain.Notice          `json:"notice"`
	AttemptID domain.ID              `json:"attemptId,omitempty"`
	Orphaned  bool                   `json:"orphaned,omitempty"`
	Message   string                 `json:"message,omitempty"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
	// final closes the connection once written.
	final bool
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Code: errorCode(err), Message: err.Error()}}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrQuotaExhausted):
		return "quota_exhausted"
	case errors.Is(err, domain.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, domain.ErrLoad):
		return "load_failed"
	case errors.Is(err, domain.ErrSessionActive):
		return "session_active"
	case errors.Is(err, domain.ErrExamNotFound):
		return "exam_not_found"
	case errors.Is(err, domain.ErrQuestionNotFound):
		return "unknown_question"
	case errors.Is(err, domain.ErrAlternativeNotFound):
		return "unknown_alternative"
	case errors.Is(err, domain.ErrAlreadySubmitting):
		return "already_submitting"
	case errors.Is(err, domain.ErrSessionNotFound):
		return "session_closed"
	case errors.Is(err, domain.ErrSubmission):
		return "submission_failed"
	}
	return "internal"
}

// ServeWS upgrades the request and drives one attempt session over the connection.
// Closing the connection leaves the session; a submission already in flight still completes.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	examID := domain.ID(query.Get("examId"))
	if examID == "" {
		http.Error(w, "missing examId", http.StatusBadRequest)
		return
	}
	token := r.Header.Get("Authorization")
	if token == "" {
		token = query.Get("token")
	}
	creds, err := auth.FromToken(token)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if userID := query.Get("userId"); userID != "" && domain.ID(userID) != creds.UserID {
		http.Error(w, "userId does not match token", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	log := h.log.With().Str("exam_id", examID.String()).Str("user_id", creds.UserID.String()).Logger()

	remaining, err := h.service.CheckQuota(r.Context(), creds, examID)
	if err != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
		_ = conn.WriteJSON(errorMessage(err))
		log.Info().Err(err).Msg("attempt refused")
		return
	}

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	var forwarders sync.WaitGroup

	go func() {
		defer close(writerDone)
		for msg := range send {
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("ws write error")
				// Unblocks the read loop.
				_ = conn.Close()
				return
			}
			if msg.final {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, msg.Type),
					time.Now().Add(h.writeWait))
				_ = conn.Close()
				return
			}
		}
	}()

	// push drops the message once the writer is gone.
	push := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}

	push(outboundMessage[any]{Type: "quota", Payload: quotaPayload{Remaining: remaining}})

	var session *app.AttemptSession
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "start":
			if session != nil {
				push(errorMessage(domain.ErrSessionActive))
				continue
			}
			started, err := h.service.Start(r.Context(), creds, examID)
			if err != nil {
				msg := errorMessage(err)
				msg.final = true
				push(msg)
				continue
			}
			session = started
			push(outboundMessage[any]{Type: "exam", Payload: session.Exam()})

			updates, cancel := session.Subscribe()
			forwarders.Add(1)
			go func() {
				defer forwarders.Done()
				defer cancel()
				h.forward(started, updates, send, closeSignals, writerDone)
			}()
		case "answer":
			if session == nil {
				push(errorMessage(domain.ErrSessionNotFound))
				continue
			}
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				push(outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "bad_request", Message: "invalid answer payload"}})
				continue
			}
			if payload.AlternativeID != "" {
				err = h.service.Choose(session.ID(), payload.QuestionID, payload.AlternativeID)
			} else {
				err = h.service.Answer(session.ID(), payload.QuestionID, payload.Value)
			}
			if err != nil {
				push(errorMessage(err))
			}
		case "submit":
			if session == nil {
				push(errorMessage(domain.ErrSessionNotFound))
				continue
			}
			// The outcome reaches the client through the forwarder.
			if _, err := h.service.Submit(r.Context(), session.ID()); err != nil && !errors.Is(err, domain.ErrSubmission) {
				push(errorMessage(err))
			}
		default:
			push(outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "bad_request", Message: "unsupported message type"}})
		}
	}

	close(closeSignals)
	forwarders.Wait()
	close(send)
	<-writerDone

	if session != nil {
		h.service.LeaveSession(session)
	}
}

// forward pushes countdown ticks while the session runs and the result once it is terminal.
func (h *WSHandler) forward(session *app.AttemptSession, updates <-chan domain.Snapshot, send chan<- outboundMessage[any], closeSignals, writerDone <-chan struct{}) {
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if snap.State != domain.StateIdle {
				continue
			}
			select {
			case send <- outboundMessage[any]{Type: "tick", Payload: tickPayload{Remaining: snap.Remaining}}:
			case <-closeSignals:
				return
			case <-writerDone:
				return
			}
		case <-session.Done():
			out := session.Outcome()
			result := resultPayload{
				State:     out.State,
				Notice:    out.Notice,
				AttemptID: out.AttemptID,
				Orphaned:  out.Orphaned,
			}
			if out.Err != nil {
				result.Message = out.Err.Error()
			}
			select {
			case send <- outboundMessage[any]{Type: "result", Payload: result, final: true}:
			case <-closeSignals:
			case <-writerDone:
			}
			return
		case <-closeSignals:
			return
		}
	}
}
