// Command p8poke stands in for the PICO-8 web player: it attaches to the
// bridge console socket, prints status messages and lets you flip cartridge
// bits from stdin.
//
//	check Key        set the outbound bit for a location
//	win              set the victory bit
//	die              raise the local fate bit
//	poke 25 2        write one cell
//	dump             print the mirrored array
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"p8link.dev/internal/flags"
	"p8link.dev/internal/gpio"
	"p8link.dev/internal/transport/console"
)

type mirror struct {
	mu     sync.Mutex
	cells  []byte
	layout gpio.Layout
	// ack is the highest server Seq applied to cells.
	ack uint64
}

func (m *mirror) apply(f console.Frame) (message string, changed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.Seq > m.ack {
		m.ack = f.Seq
	}
	switch f.Type {
	case console.TypeGPIO:
		for i, v := range f.Data {
			if i < len(m.cells) {
				m.cells[i] = byte(v)
			}
		}
	case console.TypePoke:
		if f.Index < 0 || f.Index >= len(m.cells) {
			return "", false
		}
		m.cells[f.Index] = byte(f.Value)
		z := m.layout.Message
		if f.Index < z.Start || f.Index >= z.End() {
			return "", false
		}
	default:
		return "", false
	}
	z := m.layout.Message
	win := m.cells[z.Start:z.End()]
	if i := strings.IndexByte(string(win), 0); i >= 0 {
		win = win[:i]
	}
	return string(win), true
}

func (m *mirror) acked() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ack
}

func (m *mirror) get(i int) byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cells[i]
}

func main() {
	var (
		url  = flag.String("url", "ws://127.0.0.1:8080/v1/console", "bridge console ws url")
		name = flag.String("name", "p8poke", "console name")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[p8poke] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(console.Frame{Type: console.TypeHello, Name: *name}); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	m := &mirror{cells: make([]byte, gpio.Size), layout: gpio.DefaultLayout()}
	var writeMu sync.Mutex
	send := func(f console.Frame) {
		writeMu.Lock()
		defer writeMu.Unlock()
		f.Ack = m.acked()
		if err := conn.WriteJSON(f); err != nil {
			logger.Printf("send: %v", err)
		}
	}

	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				logger.Printf("read: %v", err)
				os.Exit(0)
			}
			var f console.Frame
			if err := json.Unmarshal(msg, &f); err != nil {
				continue
			}
			if text, ok := m.apply(f); ok && text != "" {
				logger.Printf("message: %q", text)
			}
			if f.Type == console.TypeGPIO {
				logger.Printf("GPIO options=%#x inbound=% x fate=%#x", m.get(m.layout.Options.Start),
					m.snapshotZone(m.layout.Inbound), m.get(m.layout.FateReceived.Start))
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-stop:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := handleLine(m, send, line); err != nil {
				logger.Printf("%v", err)
			}
		}
	}
}

func (m *mirror) snapshotZone(z gpio.Zone) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.cells[z.Start:z.End()]...)
}

func handleLine(m *mirror, send func(console.Frame), line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	setBit := func(f flags.BitFlag) {
		i := m.layout.Outbound.Start + f.ByteIndex()
		send(console.Frame{Type: console.TypePoke, Index: i, Value: int(m.get(i) | f.Mask())})
	}
	switch fields[0] {
	case "check":
		loc := strings.Join(fields[1:], " ")
		f, ok := flags.Outbound.ByName(loc)
		if !ok {
			return fmt.Errorf("unknown location %q", loc)
		}
		setBit(f)
	case "win":
		f, _ := flags.Outbound.ByName(flags.Victory)
		setBit(f)
	case "die":
		z := m.layout.FatePending
		send(console.Frame{Type: console.TypePoke, Index: z.Start, Value: int(m.get(z.Start) | z.Mask)})
	case "poke":
		if len(fields) != 3 {
			return fmt.Errorf("usage: poke <index> <value>")
		}
		i, err1 := strconv.Atoi(fields[1])
		v, err2 := strconv.Atoi(fields[2])
		if err1 != nil || err2 != nil || i < 0 || i >= gpio.Size || v < 0 || v > 0xff {
			return fmt.Errorf("bad poke %q", line)
		}
		send(console.Frame{Type: console.TypePoke, Index: i, Value: v})
	case "dump":
		fmt.Printf("% x\n", m.snapshotZone(gpio.Zone{Start: 0, Len: gpio.Size}))
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
	return nil
}
