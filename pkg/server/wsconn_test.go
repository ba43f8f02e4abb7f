package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialTestWebSocket(t *testing.T, srv *Server, query string) *websocket.Conn {
	t.Helper()
	hts := httptest.NewServer(http.HandlerFunc(srv.handleWebSocket))
	t.Cleanup(hts.Close)

	url := "ws" + strings.TrimPrefix(hts.URL, "http") + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", url, err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	return string(data)
}

func TestWebSocketLoginAndCommand(t *testing.T) {
	srv := newTestServer(t)
	ws := dialTestWebSocket(t, srv, "")

	if welcome := readFrame(t, ws); !strings.Contains(welcome, "create <name> <password>") {
		t.Fatalf("first frame should be the welcome screen, got %q", welcome)
	}

	ws.WriteMessage(websocket.TextMessage, []byte("create webby sekrit"))
	found := false
	for i := 0; i < 5 && !found; i++ {
		found = strings.Contains(readFrame(t, ws), "account has been created")
	}
	if !found {
		t.Fatal("create must answer with the account creation notice")
	}
}

func TestWebSocketOOBPingPong(t *testing.T) {
	srv := newTestServer(t)
	ws := dialTestWebSocket(t, srv, "")
	readFrame(t, ws) // welcome

	ws.WriteMessage(websocket.TextMessage, []byte(`OOB{"ping":[]}`))
	frame := readFrame(t, ws)
	if !strings.HasPrefix(frame, "OOB") {
		t.Fatalf("pong must be an OOB frame, got %q", frame)
	}
	var payload map[string][]any
	if err := json.Unmarshal([]byte(frame[3:]), &payload); err != nil {
		t.Fatalf("pong payload: %v", err)
	}
	if _, ok := payload["pong"]; !ok {
		t.Fatalf("expected pong instruction, got %v", payload)
	}
}

func TestWebSocketMalformedOOBIsDropped(t *testing.T) {
	srv := newTestServer(t)
	ws := dialTestWebSocket(t, srv, "")
	readFrame(t, ws) // welcome

	ws.WriteMessage(websocket.TextMessage, []byte(`OOB{not json at all`))

	// The connection must survive; a well-formed ping still answers.
	ws.WriteMessage(websocket.TextMessage, []byte(`OOB{"ping":[]}`))
	if frame := readFrame(t, ws); !strings.HasPrefix(frame, "OOB") {
		t.Fatalf("connection should still answer OOB after bad frame, got %q", frame)
	}
}

func TestWebSocketTokenLoginSkipsLoginScreen(t *testing.T) {
	srv := newTestServer(t)
	if _, err := srv.world.Store().CreateAccount("tokenuser", "sekrit"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	token, err := srv.auth.Login("tokenuser", "sekrit")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	ws := dialTestWebSocket(t, srv, "?token="+token)
	if frame := readFrame(t, ws); !strings.Contains(frame, "Welcome back, tokenuser!") {
		t.Fatalf("token login should greet the account, got %q", frame)
	}

	// Token logins are resyncs: the login counter must stay untouched.
	acct, _ := srv.world.Store().GetAccountByName("tokenuser")
	if acct.LoginCount != 0 {
		t.Errorf("resync must not count as a login, LoginCount = %d", acct.LoginCount)
	}
}
