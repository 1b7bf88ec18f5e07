// Package bridge keeps the console GPIO region and an Archipelago session in
// sync. All handlers run on one goroutine (Run) in arrival order; packet
// callbacks and memory change notifications only enqueue.
package bridge

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"p8link.dev/internal/flags"
	"p8link.dev/internal/gpio"
	"p8link.dev/internal/protocol"
)

// Session is the slice of the Archipelago client the bridge drives.
type Session interface {
	SendChecks(ctx context.Context, ids []int64) error
	SendScouts(ctx context.Context, ids []int64, createAsHint int) error
	SendGoal(ctx context.Context) error
	SendBounce(ctx context.Context, tags []string, data any) error
	SendConnectUpdate(ctx context.Context, tags []string) error
	SendSync(ctx context.Context) error
	ItemName(game string, id int64) (string, bool)
}

// Memory is the shared GPIO region. *gpio.Buffer implements it.
type Memory interface {
	Snapshot() []byte
	Set(origin gpio.Origin, i int, v byte)
	SetBits(origin gpio.Origin, i int, mask byte)
	ClearBits(origin gpio.Origin, i int, mask byte)
	Fill(origin gpio.Origin, start int, data []byte)
	Subscribe(fn func(gpio.Change)) (cancel func())
}

type Config struct {
	Layout   gpio.Layout
	Inbound  *flags.Table
	Outbound *flags.Table

	// CallTimeout bounds each outgoing protocol call.
	CallTimeout time.Duration

	Recorders []Recorder
}

// Status is a point-in-time view for the status endpoint.
type Status struct {
	Ready            bool    `json:"ready"`
	Slot             int     `json:"slot"`
	Name             string  `json:"name,omitempty"`
	Options          Options `json:"options"`
	OptionByte       byte    `json:"option_byte"`
	FateRemaining    int     `json:"fate_remaining"`
	FateTolerance    int     `json:"fate_tolerance"`
	CheckedLocations int     `json:"checked_locations"`
	Participants     int     `json:"participants"`
	GoalSent         bool    `json:"goal_sent"`
	QueueDepth       int     `json:"queue_depth"`
	LastError        string  `json:"last_error,omitempty"`
}

type Bridge struct {
	cfg     Config
	session Session
	mem     Memory
	log     *log.Logger
	queue   *eventQueue

	// Guarded by mu; written only by the loop goroutine.
	mu         sync.Mutex
	ready      bool
	self       Participant
	roster     Roster
	options    Options
	optionByte byte
	fate       *FateLedger
	checked    map[int64]struct{}
	goalSent   bool
	lastErr    string

	// Copy of the loop state as of the last handled event. Status reads it
	// without waiting for a handler that is blocked on the network.
	statusMu sync.Mutex
	status   Status
}

// New validates the layout against the flag tables.
func New(cfg Config, session Session, mem Memory, logger *log.Logger) (*Bridge, error) {
	if cfg.Inbound == nil {
		cfg.Inbound = flags.Inbound
	}
	if cfg.Outbound == nil {
		cfg.Outbound = flags.Outbound
	}
	if cfg.Layout.Size == 0 {
		cfg.Layout = gpio.DefaultLayout()
	}
	cfg.Layout.Normalize()
	if err := cfg.Layout.ValidateTables(cfg.Inbound, cfg.Outbound); err != nil {
		return nil, err
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if session == nil || mem == nil {
		return nil, errors.New("bridge: nil session or memory")
	}
	b := &Bridge{
		cfg:     cfg,
		session: session,
		mem:     mem,
		log:     logger,
		queue:   newEventQueue(),
		fate:    NewFateLedger(1),
		checked: map[int64]struct{}{},
	}
	b.publishLocked()
	return b, nil
}

// HandleConnected and the other Handle methods make *Bridge an
// apclient.Handler.
func (b *Bridge) HandleConnected(c protocol.Connected) {
	b.queue.push(event{kind: evConnected, connected: c})
}

func (b *Bridge) HandleReceivedItems(v protocol.ReceivedItems) {
	b.queue.push(event{kind: evItems, items: v})
}

func (b *Bridge) HandleLocationInfo(v protocol.LocationInfo) {
	b.queue.push(event{kind: evLocationInfo, info: v})
}

func (b *Bridge) HandleBounced(v protocol.Bounced) {
	b.queue.push(event{kind: evBounced, bounced: v})
}

func (b *Bridge) HandleDisconnected(err error) {
	b.queue.push(event{kind: evDisconnected, err: err})
}

// Run drains the event queue until ctx ends or bootstrap fails.
func (b *Bridge) Run(ctx context.Context) error {
	cancel := b.Watch()
	defer cancel()

	for {
		ev, err := b.queue.pop(ctx)
		if err != nil {
			return nil
		}
		if err := b.handle(ctx, ev); err != nil {
			return err
		}
	}
}

// Drain handles every queued event and returns. Tests use it in place of Run.
func (b *Bridge) Drain(ctx context.Context) error {
	for {
		ev, ok := b.queue.tryPop()
		if !ok {
			return nil
		}
		if err := b.handle(ctx, ev); err != nil {
			return err
		}
	}
}

// Watch subscribes the bridge to console writes. Its own writes never
// trigger a poll.
func (b *Bridge) Watch() (cancel func()) {
	return b.mem.Subscribe(func(ch gpio.Change) {
		if ch.Origin == gpio.OriginBridge {
			return
		}
		b.queue.push(event{kind: evPoll, change: ch})
	})
}

func (b *Bridge) handle(ctx context.Context, ev event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.publishLocked()

	switch ev.kind {
	case evConnected:
		if err := b.bootstrap(ctx, ev.connected); err != nil {
			b.lastErr = err.Error()
			b.log.Printf("bootstrap failed: %v", err)
			return err
		}
	case evItems:
		if b.ready {
			b.applyItems(ev.items)
		}
	case evBounced:
		if b.ready {
			b.applyBounced(ctx, ev.bounced)
		}
	case evLocationInfo:
		if b.ready {
			b.applyLocationInfo(ev.info)
		}
	case evPoll:
		if b.ready {
			b.poll(ctx)
		}
	case evDisconnected:
		b.ready = false
		if ev.err != nil {
			b.lastErr = ev.err.Error()
		}
	}
	return nil
}

func (b *Bridge) Status() Status {
	b.statusMu.Lock()
	st := b.status
	b.statusMu.Unlock()
	st.QueueDepth = b.queue.len()
	return st
}

// publishLocked refreshes the status copy. Callers hold b.mu.
func (b *Bridge) publishLocked() {
	st := Status{
		Ready:            b.ready,
		Slot:             b.self.Slot,
		Name:             b.self.Name,
		Options:          b.options,
		OptionByte:       b.optionByte,
		FateRemaining:    b.fate.Remaining(),
		FateTolerance:    b.fate.Tolerance(),
		CheckedLocations: len(b.checked),
		Participants:     b.roster.Len(),
		GoalSent:         b.goalSent,
		LastError:        b.lastErr,
	}
	b.statusMu.Lock()
	b.status = st
	b.statusMu.Unlock()
}

func (b *Bridge) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.cfg.CallTimeout)
}

// render writes a status message into the message window.
func (b *Bridge) render(text string) {
	z := b.cfg.Layout.Message
	b.mem.Fill(gpio.OriginBridge, z.Start, messageFrame(text, z.Len))
	b.record(AuditEntry{Kind: AuditMessage, Text: text})
}
