package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"attempt-runner/internal/app"
	"attempt-runner/internal/domain"
	"attempt-runner/internal/infra/memory"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type testServer struct {
	*httptest.Server
	backend  *memory.StaticBackend
	journal  *memory.Journal
	sessions *memory.SessionStore
}

func newTestServer(t *testing.T, opts ...func(*WSHandler)) *testServer {
	t.Helper()
	backend := memory.NewStaticBackend(map[domain.ID]domain.ExamDefinition{"exam-1": sampleExam()})
	journal := memory.NewJournal()
	sessions := memory.NewSessionStore()
	service := app.NewAttemptService(
		memory.NewExamRepository(backend, time.Minute),
		backend,
		sessions,
		journal,
		zerolog.Nop(),
		app.WithTickInterval(10*time.Millisecond),
	)
	wsHandler := NewWSHandler(service, zerolog.Nop())
	for _, opt := range opts {
		opt(wsHandler)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &testServer{Server: server, backend: backend, journal: journal, sessions: sessions}
}

func (s *testServer) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketAttemptFlow(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.dial(t, "examId=exam-1&token="+tokenFor(t, "u1"))

	_, payload := readNext(conn, t, "quota")
	if payload["remaining"] != float64(2) {
		t.Fatalf("expected 2 remaining, got %v", payload["remaining"])
	}

	send(t, conn, map[string]any{"type": "start"})
	_, exam := readNext(conn, t, "exam")
	if exam["id"] != "exam-1" || exam["timeLimitMinutes"] != float64(1) {
		t.Fatalf("unexpected exam payload %v", exam)
	}

	send(t, conn, map[string]any{"type": "answer", "payload": map[string]any{"questionId": "q1", "alternativeId": "a1"}})
	send(t, conn, map[string]any{"type": "answer", "payload": map[string]any{"questionId": "q2", "value": "Because."}})
	send(t, conn, map[string]any{"type": "submit"})

	result := readUntil(conn, t, "result")
	if result["state"] != "submitted" || result["notice"] != "submitted" || result["attemptId"] != "attempt-1" {
		t.Fatalf("unexpected result %v", result)
	}

	subs := srv.backend.Submissions()
	if len(subs) != 1 {
		t.Fatalf("expected one submission, got %d", len(subs))
	}
	want := []domain.AnswerEntry{
		{QuestionID: "q1", StudentAnswer: "Paris"},
		{QuestionID: "q2", StudentAnswer: "Because."},
	}
	if len(subs[0].Answers) != len(want) || subs[0].Answers[0] != want[0] || subs[0].Answers[1] != want[1] {
		t.Fatalf("unexpected payload %+v", subs[0].Answers)
	}

	// The server closes after the result.
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

func TestWebSocketPushesTicks(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.dial(t, "examId=exam-1&token="+tokenFor(t, "u1"))
	readNext(conn, t, "quota")
	send(t, conn, map[string]any{"type": "start"})
	readNext(conn, t, "exam")

	tick := readUntil(conn, t, "tick")
	remaining, ok := tick["remaining"].(float64)
	if !ok || remaining < 0 || remaining > 60 {
		t.Fatalf("unexpected tick %v", tick)
	}
}

func TestWebSocketRefusesExhaustedQuota(t *testing.T) {
	srv := newTestServer(t)
	srv.backend.SetUsedAttempts("exam-1", "u1", 2)

	conn := srv.dial(t, "examId=exam-1&token="+tokenFor(t, "u1"))
	_, payload := readNext(conn, t, "error")
	if payload["code"] != "quota_exhausted" {
		t.Fatalf("expected quota_exhausted, got %v", payload)
	}
	if _, creates, _ := srv.backend.Calls(); creates != 0 {
		t.Fatalf("expected no attempt created, got %d", creates)
	}
}

func TestWebSocketReadsUserFromToken(t *testing.T) {
	srv := newTestServer(t)
	srv.backend.SetUsedAttempts("exam-1", "77", 1)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "77"}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?examId=exam-1"
	conn, _, err := websocket.DefaultDialer.Dial(u, http.Header{"Authorization": {"Bearer " + token}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_, payload := readNext(conn, t, "quota")
	if payload["remaining"] != float64(1) {
		t.Fatalf("expected 1 remaining for user 77, got %v", payload["remaining"])
	}
}

func TestWebSocketRejectsForeignUserID(t *testing.T) {
	srv := newTestServer(t)
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?examId=exam-1&userId=u2&token=" + tokenFor(t, "u1")
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("expected bad handshake, got %v", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	if loads, _, _ := srv.backend.Calls(); loads != 0 {
		t.Fatalf("expected no backend call, got %d exam loads", loads)
	}
}

func TestWebSocketRejectsOpaqueToken(t *testing.T) {
	srv := newTestServer(t)
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?examId=exam-1&token=tok&userId=u1"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("expected bad handshake, got %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

// A client that floods the socket without reading must not wedge the handler: once writes
// time out the connection is dropped and the session left.
func TestWebSocketStalledReaderLeavesSession(t *testing.T) {
	srv := newTestServer(t, func(h *WSHandler) { h.writeWait = 50 * time.Millisecond })
	conn := srv.dial(t, "examId=exam-1&token="+tokenFor(t, "u1"))
	readNext(conn, t, "quota")
	send(t, conn, map[string]any{"type": "start"})
	readNext(conn, t, "exam")
	if srv.sessions.Len() != 1 {
		t.Fatalf("expected a live session")
	}

	// Every unknown question echoes its id back in the error, so replies pile up fast.
	big := strings.Repeat("x", 64<<10)
	msg := map[string]any{"type": "answer", "payload": map[string]any{"questionId": big, "value": "v"}}
	for i := 0; i < 4000 && srv.sessions.Len() > 0; i++ {
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			break
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for srv.sessions.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session still registered after the client stalled")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	srv := newTestServer(t)
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?examId=exam-1"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("expected bad handshake, got %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestWebSocketDisconnectLeavesSession(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.dial(t, "examId=exam-1&token="+tokenFor(t, "u1"))
	readNext(conn, t, "quota")
	send(t, conn, map[string]any{"type": "start"})
	readNext(conn, t, "exam")
	conn.Close()

	// Once the first session is gone the same student can start again.
	deadline := time.Now().Add(5 * time.Second)
	for {
		again := srv.dial(t, "examId=exam-1&token="+tokenFor(t, "u1"))
		readNext(again, t, "quota")
		send(t, again, map[string]any{"type": "start"})
		typ, payload := readNext(again, t, "")
		if typ == "exam" {
			return
		}
		if payload["code"] != "session_active" || time.Now().After(deadline) {
			t.Fatalf("expected restart after disconnect, got %s %v", typ, payload)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": userID}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func send(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write %v: %v", msg["type"], err)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s (%s)", expect, msg.Type, msg.Payload)
	}
	payload := map[string]any{}
	_ = json.Unmarshal(msg.Payload, &payload)
	return msg.Type, payload
}

// readUntil skips tick messages until the expected type arrives.
func readUntil(conn *websocket.Conn, t *testing.T, expect string) map[string]any {
	t.Helper()
	for i := 0; i < 1000; i++ {
		typ, payload := readNext(conn, t, "")
		if typ == expect {
			return payload
		}
		if typ != "tick" {
			t.Fatalf("expected %s, got %s %v", expect, typ, payload)
		}
	}
	t.Fatalf("no %s message", expect)
	return nil
}

func sampleExam() domain.ExamDefinition {
	return domain.ExamDefinition{
		ID:    "exam-1",
		Title: "Geography",
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "Capital of France?",
				Type:   domain.SingleChoice,
				Alternatives: []domain.Alternative{
					{ID: "a1", Text: "Paris"},
					{ID: "a2", Text: "Berlin"},
				},
			},
			{ID: "q2", Prompt: "Why?", Type: domain.FreeResponse},
		},
		TimeLimitMinutes: 1,
		MaxAttempts:      2,
	}
}
