package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"teamsync-server/internal/auth"
	"teamsync-server/internal/hub"
	"teamsync-server/internal/realtime"
	"teamsync-server/internal/store"
	"teamsync-server/internal/syncer"
)

func dialUpdates(t *testing.T, srv *httptest.Server, userID, deviceID string) *websocket.Conn {
	t.Helper()
	tok, err := auth.CreateToken(userID, testTokenConfig)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/updates?token=" + tok + "&device_id=" + deviceID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWebSocketPingPong(t *testing.T) {
	e := newTestEnv(t, nil)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	conn := dialUpdates(t, srv, "user-1", "phone")
	if err := conn.WriteJSON(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var resp map[string]any
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if resp["type"] != "pong" {
		data, _ := json.Marshal(resp)
		t.Fatalf("expected pong, got %s", string(data))
	}
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	e := newTestEnv(t, nil)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/updates?token=nope"
	if _, _, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Fatalf("expected dial to fail")
	}
}

// A message pushed by one device reaches the other members' sockets through
// the bus, but not the socket of the device that pushed it.
func TestPushedMessageReachesOtherDevices(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, "file::memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()
	team, err := st.CreateTeam(ctx, "core", "", "alice", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	if err := st.AddMember(ctx, team.ID, "bob", "", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("AddMember: %v", err)
	}

	bus := realtime.NewLocalBus("")
	defer bus.Close()
	wsHub := hub.New()
	go func() { _ = bus.Run(ctx, realtime.HubDeliverer{Hub: wsHub}) }()

	svc := syncer.NewService(st, syncer.Options{Events: bus})
	e := &testEnv{router: NewRouter(Deps{Sync: svc, Hub: wsHub, Store: st, TokenConfig: testTokenConfig}), store: st}
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	bobConn := dialUpdates(t, srv, "bob", "tablet")
	aliceConn := dialUpdates(t, srv, "alice", "phone")
	deadline := time.Now().Add(5 * time.Second)
	for wsHub.Connections("bob") == 0 || wsHub.Connections("alice") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sockets never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// keep pushing fresh messages until the bus subscription is live
	var frame realtime.Frame
	_ = bobConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	received := make(chan error, 1)
	go func() { received <- bobConn.ReadJSON(&frame) }()
pushing:
	for i := 0; ; i++ {
		w := e.do(t, "POST", "/v1/sync/push", "alice", map[string]any{
			"device_id": "phone",
			"messages":  []map[string]any{{"client_temp_id": "tmp-" + strconv.Itoa(i), "team_id": team.ID, "body": "hello"}},
		})
		if w.Code != 200 {
			t.Fatalf("push: expected 200, got %d: %s", w.Code, w.Body.String())
		}
		select {
		case err := <-received:
			if err != nil {
				t.Fatalf("ReadJSON: %v", err)
			}
			break pushing
		case <-time.After(50 * time.Millisecond):
		}
		if i > 50 {
			t.Fatalf("no update delivered")
		}
	}
	if frame.Type != "update" || frame.Event != syncer.EventMessageCreated {
		t.Fatalf("unexpected frame %+v", frame)
	}
	if frame.Body.OriginDevice != "phone" {
		t.Fatalf("expected origin phone, got %q", frame.Body.OriginDevice)
	}

	// the pushing device is skipped, so its socket only answers pings
	if err := aliceConn.WriteJSON(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var resp map[string]any
	_ = aliceConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := aliceConn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if resp["type"] != "pong" {
		t.Fatalf("expected only a pong for the origin device, got %v", resp)
	}
}
