package console

import (
	"encoding/json"
	"errors"
)

// Frame types exchanged with the console page.
const (
	TypeHello = "HELLO"
	TypeGPIO  = "GPIO"
	TypePoke  = "POKE"
)

// Frame is the single JSON message shape on /v1/console. GPIO carries the
// whole array in Data; POKE carries one cell in Index/Value.
//
// Frames from the server carry Seq. Pages echo the highest Seq they have
// applied as Ack on every GPIO and POKE they send; cells the bridge changed
// after Ack are ignored in that frame.
type Frame struct {
	Type  string `json:"type"`
	Name  string `json:"name,omitempty"`
	Data  []int  `json:"data,omitempty"`
	Index int    `json:"index"`
	Value int    `json:"value"`
	Seq   uint64 `json:"seq,omitempty"`
	Ack   uint64 `json:"ack,omitempty"`
}

var errBadFrame = errors.New("bad frame")

func decodeFrame(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return f, err
	}
	switch f.Type {
	case TypeHello:
	case TypeGPIO:
		for _, v := range f.Data {
			if v < 0 || v > 0xff {
				return f, errBadFrame
			}
		}
	case TypePoke:
		if f.Index < 0 || f.Value < 0 || f.Value > 0xff {
			return f, errBadFrame
		}
	default:
		return f, errBadFrame
	}
	return f, nil
}

func gpioFrame(cells []byte, seq uint64) Frame {
	data := make([]int, len(cells))
	for i, c := range cells {
		data[i] = int(c)
	}
	return Frame{Type: TypeGPIO, Data: data, Seq: seq}
}

func dataBytes(data []int) []byte {
	out := make([]byte, len(data))
	for i, v := range data {
		out[i] = byte(v)
	}
	return out
}
