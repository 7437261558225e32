package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"tabletop/internal/automa"
	"tabletop/internal/game/catalog"
	"tabletop/internal/lock"
	"tabletop/internal/monitor"
	"tabletop/internal/rating"
	"tabletop/internal/storage"
	"tabletop/internal/table"
)

// --- Test environment ---

type testEnv struct {
	ts      *httptest.Server
	mgr     *table.Manager
	store   storage.Store
	metrics *monitor.Metrics
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	reg, err := catalog.New(nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	log := zap.NewNop()
	metrics := monitor.NewMetrics("test")
	pool := automa.NewPool(log, 2, 16)
	mgr := table.NewManager(table.Deps{
		Registry:  reg,
		Store:     store,
		Locker:    lock.NewLocal(),
		Scheduler: pool,
		Rater:     rating.NewElo(store, log, rating.DefaultK),
		Metrics:   metrics,
		Log:       log,
	}, table.Limits{})
	pool.Start(context.Background(), mgr)
	t.Cleanup(pool.Stop)

	srv := New(mgr, metrics, log)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	t.Cleanup(srv.Hub().Close)

	return &testEnv{ts: ts, mgr: mgr, store: store, metrics: metrics}
}

// --- Context helpers ---

func timeoutCtx(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// --- REST API helpers ---

// do sends a request as user and returns the status code and body.
func do(t *testing.T, ts *httptest.Server, method, path, user, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

// post is do for POST requests that must return want.
func post(t *testing.T, ts *httptest.Server, path, user, body string, want int) []byte {
	t.Helper()
	status, data := do(t, ts, http.MethodPost, path, user, body)
	if status != want {
		t.Fatalf("POST %s as %q: expected %d, got %d: %s", path, user, want, status, data)
	}
	return data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func createTableViaAPI(t *testing.T, ts *httptest.Server, gameID, user string) string {
	t.Helper()
	body := fmt.Sprintf(`{"gameId":%q,"public":true}`, gameID)
	data := post(t, ts, "/api/tables", user, body, http.StatusCreated)
	summary := decode[tableSummary](t, data)
	if summary.ID == "" {
		t.Fatal("expected non-empty table id")
	}
	return summary.ID
}

// startTicTacToe creates a table for alice and bob and starts it. Alice
// moves first.
func startTicTacToe(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	id := createTableViaAPI(t, ts, "tictactoe", "alice")
	post(t, ts, "/api/tables/"+id+"/join", "bob", "", http.StatusOK)
	post(t, ts, "/api/tables/"+id+"/start", "alice", "", http.StatusOK)
	return id
}

func moveBody(cell int) string {
	return fmt.Sprintf(`{"type":"move","cell":%d}`, cell)
}

// --- WebSocket helpers ---

func wsURL(ts *httptest.Server, id, user string) string {
	return strings.Replace(ts.URL, "http://", "ws://", 1) + "/api/tables/" + id + "/ws?user=" + user
}

// wsConnect dials a table websocket as user. The caller is responsible for
// closing the connection.
func wsConnect(t *testing.T, ts *httptest.Server, id, user string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(ts, id, user), nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	return conn
}

// sendWS marshals and sends a typed WebSocket message.
func sendWS(ctx context.Context, t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	msg := WSMessage{Type: msgType}
	if payload != nil {
		p, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		msg.Payload = p
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal ws message: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("ws write: %v", err)
	}
}

func readWS(ctx context.Context, t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal ws message: %v", err)
	}
	return msg
}

type stateMessage struct {
	Table         tableSummary      `json:"table"`
	State         map[string]any    `json:"state"`
	ValidCommands []json.RawMessage `json:"validCommands"`
}

// readState reads messages until a state message arrives.
func readState(ctx context.Context, t *testing.T, conn *websocket.Conn) stateMessage {
	t.Helper()
	msg := readWS(ctx, t, conn)
	if msg.Type != "state" {
		t.Fatalf("expected state message, got %q: %s", msg.Type, string(msg.Payload))
	}
	return decode[stateMessage](t, msg.Payload)
}

// readStateUntil reads state messages until ok accepts one.
func readStateUntil(ctx context.Context, t *testing.T, conn *websocket.Conn, ok func(stateMessage) bool) stateMessage {
	t.Helper()
	for {
		sm := readState(ctx, t, conn)
		if ok(sm) {
			return sm
		}
	}
}

func readError(ctx context.Context, t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	msg := readWS(ctx, t, conn)
	if msg.Type != "error" {
		t.Fatalf("expected error message, got %q: %s", msg.Type, string(msg.Payload))
	}
	return decode[errorPayload](t, msg.Payload).Message
}
