// Package apclient is a minimal Archipelago websocket client: handshake,
// packet routing and the handful of commands the bridge sends.
package apclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"p8link.dev/internal/protocol"
)

var (
	// ErrConnectionFailure covers bad endpoints and refused credentials.
	ErrConnectionFailure = errors.New("connection failure")
	ErrNotConnected      = errors.New("not connected")
)

// RefusedError carries the server's ConnectionRefused codes. Unknown lists
// the codes this client has no meaning for.
type RefusedError struct {
	Codes   []string
	Unknown []string
}

func newRefusedError(codes []string) *RefusedError {
	e := &RefusedError{Codes: codes}
	for _, c := range codes {
		if !protocol.IsKnownRefusal(c) {
			e.Unknown = append(e.Unknown, c)
		}
	}
	return e
}

func (e *RefusedError) Error() string {
	msg := "connection refused: " + strings.Join(e.Codes, ",")
	if len(e.Unknown) > 0 {
		msg += " (unknown codes: " + strings.Join(e.Unknown, ",") + ")"
	}
	return msg
}

func (e *RefusedError) Unwrap() error { return ErrConnectionFailure }

// Handler receives routed packets on the client's read goroutine, in
// arrival order.
type Handler interface {
	HandleConnected(protocol.Connected)
	HandleReceivedItems(protocol.ReceivedItems)
	HandleLocationInfo(protocol.LocationInfo)
	HandleBounced(protocol.Bounced)
	HandleDisconnected(err error)
}

type Config struct {
	// Server is host:port or a full ws:// / wss:// URL.
	Server   string
	Name     string
	Password string
	Game     string
	Tags     []string

	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
}

// Status is a point-in-time view of the connection.
type Status struct {
	Connected bool   `json:"connected"`
	URL       string `json:"url,omitempty"`
	Slot      int    `json:"slot,omitempty"`
	Team      int    `json:"team"`
	SeedName  string `json:"seed_name,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

type Client struct {
	cfg     Config
	handler Handler
	log     *log.Logger
	uuid    string

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	url       string
	slot      int
	team      int
	seedName  string
	lastErr   string
	itemNames map[string]map[int64]string

	writeMu sync.Mutex
}

func New(cfg Config, h Handler, logger *log.Logger) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Client{
		cfg:       cfg,
		handler:   h,
		log:       logger,
		uuid:      uuid.NewString(),
		itemNames: map[string]map[int64]string{},
	}
}

// SetHandler replaces the packet handler. Call it before Run.
func (c *Client) SetHandler(h Handler) { c.handler = h }

// Run connects and serves the session until ctx ends. The first connection
// attempt must succeed; later drops are retried with capped backoff unless
// the server refuses the slot outright.
func (c *Client) Run(ctx context.Context) error {
	conn, rest, err := c.dialAndHandshake(ctx)
	if err != nil {
		c.setErr(err)
		return err
	}
	for {
		err := c.serve(ctx, conn, rest)
		c.setDisconnected(err)
		if ctx.Err() != nil {
			return nil
		}
		c.log.Printf("disconnected: %v", err)
		if c.handler != nil {
			c.handler.HandleDisconnected(err)
		}

		backoff := 200 * time.Millisecond
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			conn, rest, err = c.dialAndHandshake(ctx)
			if err == nil {
				break
			}
			c.setErr(err)
			var refused *RefusedError
			if errors.As(err, &refused) && protocol.IsPermanentRefusal(refused.Codes) {
				return err
			}
			c.log.Printf("reconnect: %v (retry in %s)", err, backoff)
			if backoff < 5*time.Second {
				backoff *= 2
				if backoff > 5*time.Second {
					backoff = 5 * time.Second
				}
			}
		}
	}
}

// candidateURLs mirrors the web client: explicit schemes are used as given,
// bare host:port tries wss first.
func candidateURLs(server string) []string {
	s := strings.TrimSpace(server)
	if strings.HasPrefix(s, "ws://") || strings.HasPrefix(s, "wss://") {
		return []string{s}
	}
	return []string{"wss://" + s, "ws://" + s}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, string, error) {
	d := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	var lastErr error
	for _, u := range candidateURLs(c.cfg.Server) {
		conn, resp, err := d.DialContext(ctx, u, http.Header{})
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil {
			return conn, u, nil
		}
		lastErr = err
	}
	return nil, "", fmt.Errorf("%w: dial %s: %v", ErrConnectionFailure, c.cfg.Server, lastErr)
}

// dialAndHandshake returns a connected socket plus any packets that arrived
// in the same frame after Connected; those must be dispatched before reading
// further.
func (c *Client) dialAndHandshake(ctx context.Context) (*websocket.Conn, []protocol.Packet, error) {
	conn, u, err := c.dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	fail := func(err error) (*websocket.Conn, []protocol.Packet, error) {
		_ = conn.Close()
		return nil, nil, err
	}
	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	_ = conn.SetReadDeadline(deadline)

	var room protocol.RoomInfo
	if _, err := c.readUntil(conn, protocol.CmdRoomInfo, &room); err != nil {
		return fail(fmt.Errorf("%w: waiting for RoomInfo: %v", ErrConnectionFailure, err))
	}

	tags := c.cfg.Tags
	if tags == nil {
		tags = []string{}
	}
	hello, err := protocol.EncodeFrame(
		protocol.GetDataPackage{Cmd: protocol.CmdGetDataPackage, Games: room.Games},
		protocol.Connect{
			Cmd:           protocol.CmdConnect,
			Password:      c.cfg.Password,
			Game:          c.cfg.Game,
			Name:          c.cfg.Name,
			UUID:          c.uuid,
			Version:       protocol.ClientVersion,
			ItemsHandling: protocol.ItemsHandlingAll,
			Tags:          tags,
			SlotData:      true,
		},
	)
	if err != nil {
		return fail(err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		return fail(fmt.Errorf("%w: send Connect: %v", ErrConnectionFailure, err))
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fail(fmt.Errorf("%w: waiting for Connected: %v", ErrConnectionFailure, err))
		}
		pkts, err := protocol.DecodeFrame(msg)
		if err != nil {
			continue
		}
		for i, p := range pkts {
			switch p.Cmd {
			case protocol.CmdDataPackage:
				c.storeDataPackage(p.Raw)
			case protocol.CmdConnectionRefused:
				var r protocol.ConnectionRefused
				_ = json.Unmarshal(p.Raw, &r)
				refused := newRefusedError(r.Errors)
				if len(refused.Unknown) > 0 {
					c.log.Printf("connect refused with unknown codes=%v", refused.Unknown)
				}
				return fail(refused)
			case protocol.CmdConnected:
				var cp protocol.Connected
				if err := json.Unmarshal(p.Raw, &cp); err != nil {
					return fail(fmt.Errorf("%w: decode Connected: %v", ErrConnectionFailure, err))
				}
				c.mu.Lock()
				c.conn = conn
				c.connected = true
				c.url = u
				c.slot = cp.Slot
				c.team = cp.Team
				c.seedName = room.SeedName
				c.lastErr = ""
				c.mu.Unlock()
				c.log.Printf("connected url=%s slot=%d team=%d seed=%s", u, cp.Slot, cp.Team, room.SeedName)
				rest := append([]protocol.Packet{p}, pkts[i+1:]...)
				return conn, rest, nil
			}
		}
	}
}

func (c *Client) readUntil(conn *websocket.Conn, cmd string, v any) ([]protocol.Packet, error) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		pkts, err := protocol.DecodeFrame(msg)
		if err != nil {
			continue
		}
		for i, p := range pkts {
			if p.Cmd != cmd {
				continue
			}
			if err := json.Unmarshal(p.Raw, v); err != nil {
				return nil, err
			}
			return pkts[i+1:], nil
		}
	}
}

// serve dispatches pending packets, then reads until the socket fails or ctx
// ends.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn, pending []protocol.Packet) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	c.dispatch(pending)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		pkts, err := protocol.DecodeFrame(msg)
		if err != nil {
			c.log.Printf("drop frame: %v", err)
			continue
		}
		c.dispatch(pkts)
	}
}

func (c *Client) dispatch(pkts []protocol.Packet) {
	for _, p := range pkts {
		switch p.Cmd {
		case protocol.CmdConnected:
			var v protocol.Connected
			if err := json.Unmarshal(p.Raw, &v); err != nil {
				continue
			}
			if c.handler != nil {
				c.handler.HandleConnected(v)
			}
		case protocol.CmdReceivedItems:
			var v protocol.ReceivedItems
			if err := json.Unmarshal(p.Raw, &v); err != nil {
				continue
			}
			if c.handler != nil {
				c.handler.HandleReceivedItems(v)
			}
		case protocol.CmdLocationInfo:
			var v protocol.LocationInfo
			if err := json.Unmarshal(p.Raw, &v); err != nil {
				continue
			}
			if c.handler != nil {
				c.handler.HandleLocationInfo(v)
			}
		case protocol.CmdBounced:
			var v protocol.Bounced
			if err := json.Unmarshal(p.Raw, &v); err != nil {
				continue
			}
			if c.handler != nil {
				c.handler.HandleBounced(v)
			}
		case protocol.CmdDataPackage:
			c.storeDataPackage(p.Raw)
		case protocol.CmdInvalidPacket:
			var v protocol.InvalidPacket
			_ = json.Unmarshal(p.Raw, &v)
			c.log.Printf("invalid packet type=%s cmd=%s: %s", v.Type, v.OriginalCmd, v.Text)
		}
	}
}

func (c *Client) storeDataPackage(raw json.RawMessage) {
	var dp protocol.DataPackage
	if err := json.Unmarshal(raw, &dp); err != nil {
		c.log.Printf("drop DataPackage: %v", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for game, gd := range dp.Data.Games {
		names := make(map[int64]string, len(gd.ItemNameToID))
		for name, id := range gd.ItemNameToID {
			names[id] = name
		}
		c.itemNames[game] = names
	}
}

// ItemName resolves an item id within game using the received DataPackage.
func (c *Client) ItemName(game string, id int64) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.itemNames[game][id]
	return n, ok
}

func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		Connected: c.connected,
		URL:       c.url,
		Slot:      c.slot,
		Team:      c.team,
		SeedName:  c.seedName,
		LastError: c.lastErr,
	}
}

func (c *Client) setErr(err error) {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
}

func (c *Client) setDisconnected(err error) {
	c.mu.Lock()
	c.conn = nil
	c.connected = false
	if err != nil {
		c.lastErr = err.Error()
	}
	c.mu.Unlock()
}

func (c *Client) send(ctx context.Context, packets ...any) error {
	b, err := protocol.EncodeFrame(packets...)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) SendChecks(ctx context.Context, ids []int64) error {
	return c.send(ctx, protocol.LocationChecks{Cmd: protocol.CmdLocationChecks, Locations: ids})
}

func (c *Client) SendScouts(ctx context.Context, ids []int64, createAsHint int) error {
	return c.send(ctx, protocol.LocationScouts{Cmd: protocol.CmdLocationScouts, Locations: ids, CreateAsHint: createAsHint})
}

func (c *Client) SendGoal(ctx context.Context) error {
	return c.send(ctx, protocol.StatusUpdate{Cmd: protocol.CmdStatusUpdate, Status: protocol.ClientStatusGoal})
}

func (c *Client) SendBounce(ctx context.Context, tags []string, data any) error {
	return c.send(ctx, protocol.Bounce{Cmd: protocol.CmdBounce, Tags: tags, Data: data})
}

func (c *Client) SendConnectUpdate(ctx context.Context, tags []string) error {
	return c.send(ctx, protocol.ConnectUpdate{Cmd: protocol.CmdConnectUpdate, ItemsHandling: protocol.ItemsHandlingAll, Tags: tags})
}

func (c *Client) SendSync(ctx context.Context) error {
	return c.send(ctx, protocol.Sync{Cmd: protocol.CmdSync})
}
