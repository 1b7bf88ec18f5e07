// Package protocol defines the subset of the Archipelago network protocol the
// bridge speaks. Every websocket frame is a JSON array of packets, each
// routed by its "cmd" field.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Server -> client commands.
const (
	CmdRoomInfo          = "RoomInfo"
	CmdConnectionRefused = "ConnectionRefused"
	CmdConnected         = "Connected"
	CmdReceivedItems     = "ReceivedItems"
	CmdLocationInfo      = "LocationInfo"
	CmdRoomUpdate        = "RoomUpdate"
	CmdPrintJSON         = "PrintJSON"
	CmdDataPackage       = "DataPackage"
	CmdBounced           = "Bounced"
	CmdInvalidPacket     = "InvalidPacket"
)

// Client -> server commands.
const (
	CmdConnect        = "Connect"
	CmdConnectUpdate  = "ConnectUpdate"
	CmdSync           = "Sync"
	CmdLocationChecks = "LocationChecks"
	CmdLocationScouts = "LocationScouts"
	CmdStatusUpdate   = "StatusUpdate"
	CmdBounce         = "Bounce"
	CmdGetDataPackage = "GetDataPackage"
)

// Tags.
const TagDeathLink = "DeathLink"

// ItemsHandlingAll asks the server to send every item, including ones found
// in our own world and starting inventory.
const ItemsHandlingAll = 0b111

// ClientStatusGoal is the StatusUpdate value that marks the goal completed.
const ClientStatusGoal = 30

// BaseMessage lets us route packets by cmd.
type BaseMessage struct {
	Cmd string `json:"cmd"`
}

// Packet is one routed element of a frame.
type Packet struct {
	Cmd string
	Raw json.RawMessage
}

// DecodeFrame splits a frame into packets. Elements without a cmd are
// skipped.
func DecodeFrame(b []byte) ([]Packet, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	out := make([]Packet, 0, len(raw))
	for _, r := range raw {
		var base BaseMessage
		if err := json.Unmarshal(r, &base); err != nil || base.Cmd == "" {
			continue
		}
		out = append(out, Packet{Cmd: base.Cmd, Raw: r})
	}
	return out, nil
}

// EncodeFrame marshals packets as a single frame.
func EncodeFrame(packets ...any) ([]byte, error) {
	if packets == nil {
		packets = []any{}
	}
	return json.Marshal(packets)
}
