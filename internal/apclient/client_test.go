package apclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"p8link.dev/internal/apclient/aptest"
	"p8link.dev/internal/protocol"
)

type recorder struct {
	mu           sync.Mutex
	connected    []protocol.Connected
	items        []protocol.ReceivedItems
	infos        []protocol.LocationInfo
	bounces      []protocol.Bounced
	disconnected int
	notify       chan struct{}
}

func newRecorder() *recorder { return &recorder{notify: make(chan struct{}, 64)} }

func (r *recorder) ping() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *recorder) HandleConnected(c protocol.Connected) {
	r.mu.Lock()
	r.connected = append(r.connected, c)
	r.mu.Unlock()
	r.ping()
}

func (r *recorder) HandleReceivedItems(v protocol.ReceivedItems) {
	r.mu.Lock()
	r.items = append(r.items, v)
	r.mu.Unlock()
	r.ping()
}

func (r *recorder) HandleLocationInfo(v protocol.LocationInfo) {
	r.mu.Lock()
	r.infos = append(r.infos, v)
	r.mu.Unlock()
	r.ping()
}

func (r *recorder) HandleBounced(v protocol.Bounced) {
	r.mu.Lock()
	r.bounces = append(r.bounces, v)
	r.mu.Unlock()
	r.ping()
}

func (r *recorder) HandleDisconnected(error) {
	r.mu.Lock()
	r.disconnected++
	r.mu.Unlock()
	r.ping()
}

func (r *recorder) waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.NewTimer(3 * time.Second)
	defer deadline.Stop()
	for {
		r.mu.Lock()
		ok := cond()
		r.mu.Unlock()
		if ok {
			return
		}
		select {
		case <-deadline.C:
			t.Fatalf("timeout waiting for condition")
		case <-r.notify:
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func discard() *log.Logger { return log.New(io.Discard, "", 0) }

func TestClient_HandshakeAndRouting(t *testing.T) {
	srv := aptest.NewServer("MetroCUBEvania", "p1", 1)
	defer srv.Close()
	srv.DataPackage = map[string]protocol.GameData{
		"MetroCUBEvania": {ItemNameToID: map[string]int64{"Key": 19828412014}},
	}
	srv.AfterConnect = []any{
		protocol.ReceivedItems{Cmd: protocol.CmdReceivedItems, Index: 0, Items: []protocol.NetworkItem{{Item: 19828412014, Player: 1}}},
	}

	rec := newRecorder()
	c := New(Config{Server: srv.URL(), Name: "p1", Game: "MetroCUBEvania"}, rec, discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	rec.waitUntil(t, func() bool { return len(rec.connected) == 1 && len(rec.items) == 1 })

	connects, ok := srv.WaitFor(protocol.CmdConnect, 1, 2*time.Second)
	if !ok {
		t.Fatalf("server did not receive Connect")
	}
	var cp protocol.Connect
	_ = json.Unmarshal(connects[0].Raw, &cp)
	if cp.Name != "p1" || cp.Game != "MetroCUBEvania" || cp.UUID == "" || !cp.SlotData || cp.ItemsHandling != protocol.ItemsHandlingAll {
		t.Fatalf("unexpected Connect: %+v", cp)
	}
	if len(srv.ReceivedCmd(protocol.CmdGetDataPackage)) != 1 {
		t.Fatalf("expected GetDataPackage before Connect")
	}
	if name, ok := c.ItemName("MetroCUBEvania", 19828412014); !ok || name != "Key" {
		t.Fatalf("ItemName: %q %v", name, ok)
	}
	if st := c.Status(); !st.Connected || st.Slot != 1 || st.SeedName != "test-seed" {
		t.Fatalf("unexpected status: %+v", st)
	}

	if err := c.SendChecks(ctx, []int64{19828412022}); err != nil {
		t.Fatalf("SendChecks: %v", err)
	}
	if err := c.SendScouts(ctx, []int64{19828412022}, 0); err != nil {
		t.Fatalf("SendScouts: %v", err)
	}
	if err := c.SendGoal(ctx); err != nil {
		t.Fatalf("SendGoal: %v", err)
	}
	got, ok := srv.WaitFor(protocol.CmdLocationChecks, 1, 2*time.Second)
	if !ok {
		t.Fatalf("no LocationChecks")
	}
	var lc protocol.LocationChecks
	_ = json.Unmarshal(got[0].Raw, &lc)
	if len(lc.Locations) != 1 || lc.Locations[0] != 19828412022 {
		t.Fatalf("unexpected checks: %+v", lc)
	}
	if _, ok := srv.WaitFor(protocol.CmdStatusUpdate, 1, 2*time.Second); !ok {
		t.Fatalf("no StatusUpdate")
	}

	_ = srv.Push(
		protocol.Bounced{Cmd: protocol.CmdBounced, Tags: []string{protocol.TagDeathLink}, Data: json.RawMessage(`{"time":1,"source":"p2"}`)},
		protocol.LocationInfo{Cmd: protocol.CmdLocationInfo, Locations: []protocol.NetworkItem{{Item: 5, Location: 19828412022, Player: 2}}},
	)
	rec.waitUntil(t, func() bool { return len(rec.bounces) == 1 && len(rec.infos) == 1 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after cancel: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not stop")
	}
	if err := c.SendSync(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after stop, got %v", err)
	}
}

func TestClient_RefusedIsConnectionFailure(t *testing.T) {
	srv := aptest.NewServer("MetroCUBEvania", "p1", 1)
	defer srv.Close()
	srv.Refuse = []string{protocol.RefusedInvalidPassword}

	c := New(Config{Server: srv.URL(), Name: "p1", Game: "MetroCUBEvania"}, newRecorder(), discard())
	err := c.Run(context.Background())
	if !errors.Is(err, ErrConnectionFailure) {
		t.Fatalf("expected ErrConnectionFailure, got %v", err)
	}
	var refused *RefusedError
	if !errors.As(err, &refused) || refused.Codes[0] != protocol.RefusedInvalidPassword {
		t.Fatalf("expected RefusedError, got %v", err)
	}
	if len(refused.Unknown) != 0 {
		t.Fatalf("known code reported unknown: %v", refused.Unknown)
	}
	if st := c.Status(); st.Connected || st.LastError == "" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestRefusedError_FlagsUnknownCodes(t *testing.T) {
	e := newRefusedError([]string{protocol.RefusedInvalidSlot, "SlotTaken"})
	if len(e.Unknown) != 1 || e.Unknown[0] != "SlotTaken" {
		t.Fatalf("unknown=%v", e.Unknown)
	}
	if !strings.Contains(e.Error(), "unknown codes: SlotTaken") {
		t.Fatalf("error=%q", e.Error())
	}
	if !errors.Is(e, ErrConnectionFailure) {
		t.Fatalf("RefusedError must unwrap to ErrConnectionFailure")
	}
}

func TestClient_BadEndpoint(t *testing.T) {
	c := New(Config{Server: "ws://127.0.0.1:1", Name: "p1", Game: "MetroCUBEvania", HandshakeTimeout: time.Second}, nil, discard())
	if err := c.Run(context.Background()); !errors.Is(err, ErrConnectionFailure) {
		t.Fatalf("expected ErrConnectionFailure, got %v", err)
	}
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	srv := aptest.NewServer("MetroCUBEvania", "p1", 1)
	defer srv.Close()

	rec := newRecorder()
	c := New(Config{Server: srv.URL(), Name: "p1", Game: "MetroCUBEvania"}, rec, discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	rec.waitUntil(t, func() bool { return len(rec.connected) == 1 })
	srv.DropConnections()
	rec.waitUntil(t, func() bool { return rec.disconnected == 1 && len(rec.connected) == 2 })
	if _, ok := srv.WaitFor(protocol.CmdConnect, 2, 2*time.Second); !ok {
		t.Fatalf("expected a second Connect")
	}
}

func TestCandidateURLs(t *testing.T) {
	if got := candidateURLs("archipelago.gg:38281"); len(got) != 2 || got[0] != "wss://archipelago.gg:38281" || got[1] != "ws://archipelago.gg:38281" {
		t.Fatalf("bare host: %v", got)
	}
	if got := candidateURLs(" ws://localhost:38281 "); len(got) != 1 || got[0] != "ws://localhost:38281" {
		t.Fatalf("explicit scheme: %v", got)
	}
}
