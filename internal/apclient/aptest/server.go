// Package aptest runs an in-process Archipelago room for tests.
package aptest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"p8link.dev/internal/protocol"
)

// Server answers the handshake with fixed RoomInfo/Connected packets and
// records every packet clients send.
type Server struct {
	Room        protocol.RoomInfo
	Connected   protocol.Connected
	DataPackage map[string]protocol.GameData
	// Refuse, when non-empty, answers Connect with ConnectionRefused.
	Refuse []string
	// AfterConnect packets are sent in the same frame as Connected.
	AfterConnect []any

	mu       sync.Mutex
	received []protocol.Packet
	peers    map[*peer]struct{}
	notify   chan struct{}

	srv      *httptest.Server
	upgrader websocket.Upgrader
}

type peer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *peer) write(packets ...any) error {
	b, err := protocol.EncodeFrame(packets...)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return p.conn.WriteMessage(websocket.TextMessage, b)
}

// NewServer starts a room for game with one player slot.
func NewServer(game, name string, slot int) *Server {
	s := &Server{
		Room: protocol.RoomInfo{
			Cmd:      protocol.CmdRoomInfo,
			Version:  protocol.Version{Major: 0, Minor: 5, Build: 1, Class: "Version"},
			Games:    []string{game},
			SeedName: "test-seed",
		},
		Connected: protocol.Connected{
			Cmd:  protocol.CmdConnected,
			Slot: slot,
			Players: []protocol.NetworkPlayer{
				{Team: 0, Slot: slot, Name: name},
			},
			SlotInfo: map[string]protocol.NetworkSlot{
				strconv.Itoa(slot): {Name: name, Game: game, Type: 1},
			},
			SlotData: json.RawMessage(`{}`),
		},
		peers:  map[*peer]struct{}{},
		notify: make(chan struct{}, 1),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL is the ws:// endpoint.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}

// DropConnections closes every client socket.
func (s *Server) DropConnections() {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	for _, p := range peers {
		_ = p.conn.Close()
	}
}

// Push sends packets to every connected client.
func (s *Server) Push(packets ...any) error {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	for _, p := range peers {
		if err := p.write(packets...); err != nil {
			return err
		}
	}
	return nil
}

// Received returns a copy of every packet received so far.
func (s *Server) Received() []protocol.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Packet(nil), s.received...)
}

// ReceivedCmd returns received packets with the given cmd.
func (s *Server) ReceivedCmd(cmd string) []protocol.Packet {
	var out []protocol.Packet
	for _, p := range s.Received() {
		if p.Cmd == cmd {
			out = append(out, p)
		}
	}
	return out
}

// WaitFor blocks until at least n packets with cmd were received.
func (s *Server) WaitFor(cmd string, n int, timeout time.Duration) ([]protocol.Packet, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if got := s.ReceivedCmd(cmd); len(got) >= n {
			return got, true
		}
		select {
		case <-deadline.C:
			return s.ReceivedCmd(cmd), false
		case <-s.notify:
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Peers reports the number of open client sockets.
func (s *Server) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

func (s *Server) handle(rw http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	p := &peer{conn: conn}
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	if err := p.write(s.Room); err != nil {
		return
	}
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		pkts, err := protocol.DecodeFrame(msg)
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.received = append(s.received, pkts...)
		s.mu.Unlock()
		select {
		case s.notify <- struct{}{}:
		default:
		}

		for _, pkt := range pkts {
			switch pkt.Cmd {
			case protocol.CmdGetDataPackage:
				dp := protocol.DataPackage{Cmd: protocol.CmdDataPackage}
				dp.Data.Games = s.DataPackage
				if err := p.write(dp); err != nil {
					return
				}
			case protocol.CmdConnect:
				if len(s.Refuse) > 0 {
					_ = p.write(protocol.ConnectionRefused{Cmd: protocol.CmdConnectionRefused, Errors: s.Refuse})
					return
				}
				out := append([]any{s.Connected}, s.AfterConnect...)
				if err := p.write(out...); err != nil {
					return
				}
			}
		}
	}
}
