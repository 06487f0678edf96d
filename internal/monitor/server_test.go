package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/marksync/marksync/internal/reconciler"
)

func startTestServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(&Config{Addr: "127.0.0.1:0", Logger: log.New(io.Discard, "", 0)})
	if err := s.Start(); err != nil {
		t.Fatalf("start monitor: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func dialTestClient(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://%s/ws", s.Addr()), nil)
	if err != nil {
		t.Fatalf("dial monitor: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.ClientCount() > 0 {
			return conn
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("client never registered")
	return nil
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return msg
}

func TestBroadcastsNotifications(t *testing.T) {
	s := startTestServer(t)
	conn := dialTestClient(t, s)

	s.ChangeApplied(reconciler.Remove{SyncedID: 7})
	msg := readMessage(t, conn)
	if msg.Type != MessageTypeChange {
		t.Fatalf("got type %q, want %q", msg.Type, MessageTypeChange)
	}
	var change ChangeData
	if err := json.Unmarshal(msg.Data, &change); err != nil {
		t.Fatal(err)
	}
	if change.Kind != "remove" || change.SyncedID != 7 {
		t.Fatalf("got change %+v", change)
	}

	s.ReconcileFailed(fmt.Errorf("lookup: %w", reconciler.ErrContainerChanged))
	msg = readMessage(t, conn)
	if msg.Type != MessageTypeFailure {
		t.Fatalf("got type %q, want %q", msg.Type, MessageTypeFailure)
	}
	var failure FailureData
	if err := json.Unmarshal(msg.Data, &failure); err != nil {
		t.Fatal(err)
	}
	if !failure.Fatal {
		t.Fatal("container failure not marked fatal")
	}

	s.DrainComplete(reconciler.DrainStats{
		Events:   3,
		Applied:  2,
		Dropped:  1,
		SyncErr:  errors.New("connection refused"),
		Duration: 42 * time.Millisecond,
	})
	msg = readMessage(t, conn)
	if msg.Type != MessageTypeDrain {
		t.Fatalf("got type %q, want %q", msg.Type, MessageTypeDrain)
	}
	var drain DrainData
	if err := json.Unmarshal(msg.Data, &drain); err != nil {
		t.Fatal(err)
	}
	if drain.Events != 3 || drain.Applied != 2 || drain.SyncError != "connection refused" {
		t.Fatalf("got drain %+v", drain)
	}
	if drain.DurationMs != 42 {
		t.Fatalf("got duration %dms, want 42", drain.DurationMs)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := startTestServer(t)
	dialTestClient(t, s)

	resp, err := http.Get(fmt.Sprintf("http://%s/health", s.Addr()))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	var body struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Clients != 1 {
		t.Fatalf("got %+v", body)
	}
}
