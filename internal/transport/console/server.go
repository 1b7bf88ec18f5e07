// Package console serves the websocket the PICO-8 web player uses to mirror
// its GPIO array into the bridge.
package console

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"p8link.dev/internal/gpio"
)

const (
	readTimeout = 60 * time.Second
	pingEvery   = 20 * time.Second
)

// Server mirrors a gpio.Buffer to connected console pages. Pages may only
// change bits the bridge does not own; bridge writes are pushed back as POKE
// frames numbered by gpio.Change.Seq.
type Server struct {
	mem  *gpio.Buffer
	keep []byte
	log  *log.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	cancel  func()
}

type client struct {
	name string
	out  chan outFrame
	// base is the Seq of the initial GPIO frame; queued POKEs at or below it
	// are already part of that frame.
	base uint64
	// closed when the client falls too far behind.
	drop     chan struct{}
	dropOnce sync.Once
}

type outFrame struct {
	seq uint64
	b   []byte
}

func (c *client) kick() { c.dropOnce.Do(func() { close(c.drop) }) }

// NewServer subscribes to mem. Close releases the subscription.
func NewServer(mem *gpio.Buffer, layout gpio.Layout, allowedOrigins []string, logger *log.Logger) *Server {
	s := &Server{
		mem:     mem,
		keep:    layout.OwnedMask(gpio.OwnerBridge),
		log:     logger,
		clients: map[*client]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
	s.cancel = mem.Subscribe(s.onChange)
	return s
}

func (s *Server) Close() {
	s.cancel()
}

// Clients reports the number of attached pages.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true } // dev default
	}
	set := map[string]bool{}
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		o := r.Header.Get("Origin")
		return o == "" || set[strings.TrimRight(o, "/")]
	}
}

func (s *Server) onChange(ch gpio.Change) {
	if ch.Origin != gpio.OriginBridge {
		return
	}
	frames := make([]outFrame, 0, len(ch.Cells))
	for _, c := range ch.Cells {
		b, err := json.Marshal(Frame{Type: TypePoke, Index: c.Index, Value: int(c.New), Seq: ch.Seq})
		if err != nil {
			continue
		}
		frames = append(frames, outFrame{seq: ch.Seq, b: b})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		for _, f := range frames {
			select {
			case c.out <- f:
			default:
				s.log.Printf("console %s: send queue full; dropping client", c.name)
				c.kick()
			}
		}
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := s.handshake(conn)
		if c == nil {
			return
		}
		// Register before the initial frame so no bridge write falls in
		// between; queued POKEs are replayed after it.
		s.mu.Lock()
		s.clients[c] = struct{}{}
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.clients, c)
			s.mu.Unlock()
			s.log.Printf("console detached name=%q", c.name)
		}()
		cells, seq := s.mem.SnapshotSeq()
		c.base = seq
		if err := writeJSON(conn, gpioFrame(cells, seq)); err != nil {
			return
		}
		s.log.Printf("console attached name=%q", c.name)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Browsers answer pings on their own; idle pages stay attached.
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})

		// Writer goroutine.
		go func() {
			ping := time.NewTicker(pingEvery)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
						cancel()
						_ = conn.Close()
						return
					}
				case <-c.drop:
					_ = conn.Close()
					return
				case f := <-c.out:
					if f.seq <= c.base {
						continue
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, f.b); err != nil {
						cancel()
						_ = conn.Close()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			f, err := decodeFrame(msg)
			if err != nil {
				continue
			}
			s.apply(f)
		}
	}
}

// apply merges a page write. Bridge-owned bits are never taken from the
// page, and cells the bridge changed after f.Ack keep their current value:
// the page wrote them without having seen that change.
func (s *Server) apply(f Frame) {
	switch f.Type {
	case TypeGPIO:
		s.mem.MergeAcked(gpio.OriginConsole, 0, dataBytes(f.Data), s.keep, f.Ack)
	case TypePoke:
		if f.Index >= s.mem.Len() {
			return
		}
		s.mem.MergeAcked(gpio.OriginConsole, f.Index, []byte{byte(f.Value)}, s.keep, f.Ack)
	}
}

// handshake waits for HELLO.
func (s *Server) handshake(conn *websocket.Conn) *client {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}
	f, err := decodeFrame(msg)
	if err != nil || f.Type != TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}
	name := strings.TrimSpace(f.Name)
	if name == "" {
		name = "console"
	}
	return &client{name: name, out: make(chan outFrame, 256), drop: make(chan struct{})}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
