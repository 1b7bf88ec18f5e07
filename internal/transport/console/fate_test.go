package console

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"testing"

	"p8link.dev/internal/bridge"
	"p8link.dev/internal/gpio"
	"p8link.dev/internal/protocol"
)

type bounceCounter struct{ bounces int }

func (s *bounceCounter) SendChecks(context.Context, []int64) error { return nil }
func (s *bounceCounter) SendScouts(context.Context, []int64, int) error { return nil }
func (s *bounceCounter) SendGoal(context.Context) error { return nil }
func (s *bounceCounter) SendConnectUpdate(context.Context, []string) error {
	return nil
}
func (s *bounceCounter) SendSync(context.Context) error { return nil }
func (s *bounceCounter) ItemName(string, int64) (string, bool) {
	return "", false
}
func (s *bounceCounter) SendBounce(context.Context, []string, any) error {
	s.bounces++
	return nil
}

func pageFrame(cells []byte) []int {
	data := make([]int, len(cells))
	for i, c := range cells {
		data[i] = int(c)
	}
	return data
}

// A page frame written before the page saw the bridge clear the pending bit
// must not count as a second death.
func TestServer_StaleFrameDoesNotRepeatFate(t *testing.T) {
	ctx := context.Background()
	mem := gpio.NewBuffer(gpio.Size)
	layout := gpio.DefaultLayout()
	srv := NewServer(mem, layout, nil, log.New(io.Discard, "", 0))
	defer srv.Close()

	sess := &bounceCounter{}
	br, err := bridge.New(bridge.Config{Layout: layout}, sess, mem, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}
	defer br.Watch()()
	br.HandleConnected(protocol.Connected{
		Cmd:      protocol.CmdConnected,
		Slot:     1,
		Players:  []protocol.NetworkPlayer{{Slot: 1, Name: "p1"}},
		SlotInfo: map[string]protocol.NetworkSlot{"1": {Name: "p1", Game: "MetroCUBEvania"}},
		SlotData: json.RawMessage(`{"DeathLink":1,"DeathLink_Amnesty":1}`),
	})
	if err := br.Drain(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	// The page attaches and the player dies.
	view, seen := mem.SnapshotSeq()
	srv.apply(Frame{Type: TypePoke, Index: 25, Value: 0x02, Ack: seen})
	_ = br.Drain(ctx)
	if sess.bounces != 1 || mem.Get(25) != 0 {
		t.Fatalf("after death: bounces=%d cell25=%#x", sess.bounces, mem.Get(25))
	}

	// Full frame still carrying the pending bit, plus a new outbound bit.
	view[25] = 0x02
	view[0] = 0x08
	srv.apply(Frame{Type: TypeGPIO, Data: pageFrame(view), Ack: seen})
	_ = br.Drain(ctx)
	if sess.bounces != 1 {
		t.Fatalf("stale frame produced bounce #%d", sess.bounces)
	}
	if mem.Get(25) != 0 || mem.Get(0) != 0x08 {
		t.Fatalf("stale frame: cell0=%#x cell25=%#x", mem.Get(0), mem.Get(25))
	}

	// Once the page has seen the clear, a new death counts again.
	_, seen = mem.SnapshotSeq()
	srv.apply(Frame{Type: TypePoke, Index: 25, Value: 0x02, Ack: seen})
	_ = br.Drain(ctx)
	if sess.bounces != 2 || mem.Get(25) != 0 {
		t.Fatalf("second death: bounces=%d cell25=%#x", sess.bounces, mem.Get(25))
	}
}
