package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func TestUpgradePassesThroughStack(t *testing.T) {
	cors := DefaultCORSConfig()
	cors.AllowedOrigins = []string{"https://campus.example"}
	upgrader := websocket.Upgrader{CheckOrigin: cors.CheckOrigin}

	router := mux.NewRouter()
	router.Use(
		RecoveryWithLogger(zerolog.Nop()),
		Logging(zerolog.Nop()),
		Metrics(),
		CORS(cors),
	)
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, msg)
	})

	server := httptest.NewServer(router)
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	header := http.Header{"Origin": []string{"https://campus.example"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dialing through middleware: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("writing: %v", err)
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if string(msg) != `{"type":"ping"}` {
		t.Fatalf("unexpected echo %q", msg)
	}

	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("expected a foreign origin to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for a foreign origin, got %v", resp)
	}
}

func TestRecoveryWritesInternalError(t *testing.T) {
	handler := RecoveryWithLogger(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notifications", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	cors := DefaultCORSConfig()
	cors.AllowedOrigins = []string{"https://campus.example"}
	called := false
	handler := CORS(cors)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/notifications/read-all", nil)
	req.Header.Set("Origin", "https://campus.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent || called {
		t.Fatalf("expected preflight to short-circuit with 204, got %d (called=%v)", rec.Code, called)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://campus.example" {
		t.Fatalf("unexpected allow origin %q", got)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "Authorization") {
		t.Fatal("expected Authorization to be an allowed header")
	}

	if cors.OriginAllowed("https://evil.example") {
		t.Fatal("expected foreign origin to be refused")
	}
	if !cors.OriginAllowed("") {
		t.Fatal("expected requests without an Origin header to be allowed")
	}
}

func TestRouteLabelUsesTemplate(t *testing.T) {
	var label string
	router := mux.NewRouter()
	router.HandleFunc("/api/notifications/{id}/read", func(w http.ResponseWriter, r *http.Request) {
		label = routeLabel(r)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/notifications/0191c8a4-0000-7000-8000-000000000000/read", nil))
	if label != "/api/notifications/{id}/read" {
		t.Fatalf("unexpected route label %q", label)
	}
}
