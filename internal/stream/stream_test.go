package stream

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/petems/ampviz/internal/amplitude"
	"github.com/petems/ampviz/internal/app"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

type mockSource struct {
	status app.Status
	series []amplitude.Observation
}

func (m *mockSource) Status() app.Status               { return m.status }
func (m *mockSource) Series() []amplitude.Observation { return m.series }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHubBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(zerolog.Nop())
	go hub.Run(ctx)

	c := &Client{hub: hub, send: make(chan app.Event, 4)}
	if !hub.add(c) {
		t.Fatal("hub refused client")
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("ClientCount = %d, want 1", hub.ClientCount())
	}

	hub.Publish(app.Event{Session: "s1", Type: app.EventStart})
	select {
	case ev := <-c.send:
		if ev.Type != app.EventStart || ev.Session != "s1" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	hub.remove(c)
	waitFor(t, "client removal", func() bool { return hub.ClientCount() == 0 })
}

func TestHubDropsSlowClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(zerolog.Nop())
	go hub.Run(ctx)

	slow := &Client{hub: hub, send: make(chan app.Event, 1)}
	hub.add(slow)

	hub.Publish(app.Event{Type: app.EventAmplitude, Amplitude: 1})
	hub.Publish(app.Event{Type: app.EventAmplitude, Amplitude: 2})

	waitFor(t, "slow client drop", func() bool { return hub.ClientCount() == 0 })

	// The queued event is still readable, then the channel is closed.
	if ev := <-slow.send; ev.Amplitude != 1 {
		t.Errorf("expected first event, got %+v", ev)
	}
	if _, ok := <-slow.send; ok {
		t.Error("expected send channel to be closed")
	}
}

func TestHubStopClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	hub := NewHub(zerolog.Nop())
	go hub.Run(ctx)

	c := &Client{hub: hub, send: make(chan app.Event, 1)}
	hub.add(c)
	cancel()

	select {
	case _, ok := <-c.send:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client not closed on hub stop")
	}

	if hub.add(&Client{hub: hub, send: make(chan app.Event, 1)}) {
		t.Error("stopped hub should refuse clients")
	}
}

func TestEncode(t *testing.T) {
	ev := app.Event{Session: "abc", Type: app.EventAmplitude, Elapsed: 0.5, Amplitude: 12}

	typ, data, err := encode(FormatJSON, ev)
	if err != nil || typ != websocket.TextMessage {
		t.Fatalf("json encode: type=%d err=%v", typ, err)
	}
	var fromJSON app.Event
	if err := json.Unmarshal(data, &fromJSON); err != nil || fromJSON != ev {
		t.Errorf("json payload %s decoded to %+v (%v)", data, fromJSON, err)
	}

	typ, data, err = encode(FormatMsgpack, ev)
	if err != nil || typ != websocket.BinaryMessage {
		t.Fatalf("msgpack encode: type=%d err=%v", typ, err)
	}
	var fromMsgpack app.Event
	if err := msgpack.Unmarshal(data, &fromMsgpack); err != nil || fromMsgpack != ev {
		t.Errorf("msgpack payload decoded to %+v (%v)", fromMsgpack, err)
	}

	if _, _, err := encode("xml", ev); err == nil {
		t.Error("expected error for unknown format")
	}

	// A silent first window is a real observation, not a missing field.
	zero := app.Event{Session: "abc", Type: app.EventAmplitude}
	_, data, err = encode(FormatJSON, zero)
	if err != nil {
		t.Fatalf("json encode of zero event: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	for _, key := range []string{"elapsed", "amplitude"} {
		if v, ok := fields[key]; !ok || v != float64(0) {
			t.Errorf("json payload %s: %s = %v (present=%v)", data, key, v, ok)
		}
	}

	_, data, err = encode(FormatMsgpack, zero)
	if err != nil {
		t.Fatalf("msgpack encode of zero event: %v", err)
	}
	var packed map[string]any
	if err := msgpack.Unmarshal(data, &packed); err != nil {
		t.Fatalf("msgpack decode: %v", err)
	}
	for _, key := range []string{"elapsed", "amplitude"} {
		if _, ok := packed[key]; !ok {
			t.Errorf("msgpack payload is missing %s: %v", key, packed)
		}
	}
}

func TestAPIStatus(t *testing.T) {
	src := &mockSource{status: app.Status{Recording: true, State: "recording", Session: "abc", Observations: 3}}
	s := NewServer(src, zerolog.Nop())

	resp, err := s.app.Test(httptest.NewRequest("GET", "/api/status", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("Status = %d, want 200", resp.StatusCode)
	}

	var got app.Status
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != src.status {
		t.Errorf("got %+v, want %+v", got, src.status)
	}
}

func TestAPISeries(t *testing.T) {
	src := &mockSource{
		status: app.Status{Session: "abc"},
		series: []amplitude.Observation{{Elapsed: 0, Amplitude: 1}, {Elapsed: 256.0 / 44100, Amplitude: 2}},
	}
	s := NewServer(src, zerolog.Nop())

	resp, err := s.app.Test(httptest.NewRequest("GET", "/api/series", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}

	var got struct {
		Session      string                  `json:"session"`
		Observations []amplitude.Observation `json:"observations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Session != "abc" || len(got.Observations) != 2 || got.Observations[1].Amplitude != 2 {
		t.Errorf("unexpected series: %+v", got)
	}
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	s := NewServer(&mockSource{}, zerolog.Nop())

	resp, err := s.app.Test(httptest.NewRequest("GET", "/ws/amplitude", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 426 {
		t.Errorf("Status = %d, want 426", resp.StatusCode)
	}
}

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := NewServer(&mockSource{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Error("server did not shut down")
		}
	})
	return s, ln.Addr().String()
}

func TestWebsocketFeed(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		msgType int
		decode  func([]byte, *app.Event) error
	}{
		{
			name:    "json",
			query:   "",
			msgType: websocket.TextMessage,
			decode:  func(b []byte, ev *app.Event) error { return json.Unmarshal(b, ev) },
		},
		{
			name:    "msgpack",
			query:   "?format=msgpack",
			msgType: websocket.BinaryMessage,
			decode:  func(b []byte, ev *app.Event) error { return msgpack.Unmarshal(b, ev) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, addr := startServer(t)

			conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/amplitude"+tt.query, nil)
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			defer conn.Close()

			waitFor(t, "client registration", func() bool { return s.Clients() == 1 })

			sent := []app.Event{
				{Session: "abc", Type: app.EventStart},
				{Session: "abc", Type: app.EventAmplitude, Elapsed: 0, Amplitude: 42},
				{Session: "abc", Type: app.EventFail, Error: "device lost"},
			}
			for _, ev := range sent {
				s.Publish(ev)
			}

			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			for i, want := range sent {
				typ, data, err := conn.ReadMessage()
				if err != nil {
					t.Fatalf("read %d: %v", i, err)
				}
				if typ != tt.msgType {
					t.Errorf("read %d: message type %d, want %d", i, typ, tt.msgType)
				}
				var got app.Event
				if err := tt.decode(data, &got); err != nil {
					t.Fatalf("decode %d: %v", i, err)
				}
				if got != want {
					t.Errorf("event %d: got %+v, want %+v", i, got, want)
				}
			}
		})
	}
}

func TestWebsocketRejectsUnknownFormat(t *testing.T) {
	_, addr := startServer(t)

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/amplitude?format=xml", nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %v", resp)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "msgpack") {
		t.Errorf("unexpected body %q", body)
	}
}
