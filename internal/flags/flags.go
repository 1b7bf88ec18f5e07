// Package flags holds the static bit tables shared by the console cartridge
// and the Archipelago world definition.
//
// Two namespaces exist and are indexed independently: inbound flags map
// received items onto bits the cartridge reads, outbound flags map bits the
// cartridge sets onto location identifiers.
package flags

import "fmt"

// BaseID is added to every protocol offset to form the on-wire item or
// location identifier. External tooling (the apworld) must match it exactly.
const BaseID int64 = 19828412012

// Game is the Archipelago game name the bridge connects as.
const Game = "MetroCUBEvania"

const (
	// NoBit marks a flag with no memory bit (the decoy item).
	NoBit = -1
	// NoOffset marks a flag with no protocol identifier (victory).
	NoOffset int64 = -1
)

// BitFlag binds a named concept to one bit of a bitfield zone and one
// protocol offset.
type BitFlag struct {
	Name   string
	Bit    int
	Offset int64
}

func (f BitFlag) HasBit() bool    { return f.Bit != NoBit }
func (f BitFlag) HasOffset() bool { return f.Offset != NoOffset }

// ByteIndex is the byte within the owning zone that holds the bit.
func (f BitFlag) ByteIndex() int { return f.Bit / 8 }

// Mask selects the bit within ByteIndex.
func (f BitFlag) Mask() byte { return 1 << uint(f.Bit%8) }

// ID returns BaseID+Offset, or 0 when the flag has no protocol offset.
func (f BitFlag) ID() int64 {
	if !f.HasOffset() {
		return 0
	}
	return BaseID + f.Offset
}

// Table is an immutable, ordered flag table.
type Table struct {
	name  string
	flags []BitFlag

	byName   map[string]int
	byBit    map[int]int
	byOffset map[int64]int
}

// NewTable builds a table, rejecting duplicate names, bits or offsets.
// Sentinel bits and offsets are exempt from the uniqueness checks.
func NewTable(name string, fs []BitFlag) (*Table, error) {
	t := &Table{
		name:     name,
		flags:    append([]BitFlag(nil), fs...),
		byName:   make(map[string]int, len(fs)),
		byBit:    make(map[int]int, len(fs)),
		byOffset: make(map[int64]int, len(fs)),
	}
	for i, f := range t.flags {
		if f.Name == "" {
			return nil, fmt.Errorf("%s: flag %d has empty name", name, i)
		}
		if f.Bit < NoBit || f.Offset < NoOffset {
			return nil, fmt.Errorf("%s: flag %q has negative bit or offset", name, f.Name)
		}
		if _, dup := t.byName[f.Name]; dup {
			return nil, fmt.Errorf("%s: duplicate name %q", name, f.Name)
		}
		t.byName[f.Name] = i
		if f.HasBit() {
			if j, dup := t.byBit[f.Bit]; dup {
				return nil, fmt.Errorf("%s: bit %d used by %q and %q", name, f.Bit, t.flags[j].Name, f.Name)
			}
			t.byBit[f.Bit] = i
		}
		if f.HasOffset() {
			if j, dup := t.byOffset[f.Offset]; dup {
				return nil, fmt.Errorf("%s: offset %d used by %q and %q", name, f.Offset, t.flags[j].Name, f.Name)
			}
			t.byOffset[f.Offset] = i
		}
	}
	return t, nil
}

// MustTable is NewTable for package-level tables.
func MustTable(name string, fs []BitFlag) *Table {
	t, err := NewTable(name, fs)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Table) Name() string { return t.name }
func (t *Table) Len() int     { return len(t.flags) }

// All returns the flags in declaration order.
func (t *Table) All() []BitFlag { return append([]BitFlag(nil), t.flags...) }

func (t *Table) ByName(name string) (BitFlag, bool) {
	i, ok := t.byName[name]
	if !ok {
		return BitFlag{}, false
	}
	return t.flags[i], true
}

func (t *Table) ByBit(bit int) (BitFlag, bool) {
	i, ok := t.byBit[bit]
	if !ok {
		return BitFlag{}, false
	}
	return t.flags[i], true
}

// ByID resolves a full protocol identifier (BaseID+offset).
func (t *Table) ByID(id int64) (BitFlag, bool) {
	i, ok := t.byOffset[id-BaseID]
	if !ok {
		return BitFlag{}, false
	}
	return t.flags[i], true
}

// MaxBit is the highest bit index in the table, or -1 if it has none.
func (t *Table) MaxBit() int {
	max := NoBit
	for bit := range t.byBit {
		if bit > max {
			max = bit
		}
	}
	return max
}
