package gpio

import (
	"fmt"

	"p8link.dev/internal/flags"
)

// Owner is the single writer role allowed to set a zone's bits.
type Owner int

const (
	OwnerGame Owner = iota + 1
	OwnerBridge
)

func (o Owner) String() string {
	switch o {
	case OwnerGame:
		return "game"
	case OwnerBridge:
		return "bridge"
	default:
		return "unknown"
	}
}

// Zone is a byte range plus a bit mask applied to every byte in the range.
type Zone struct {
	Name  string `yaml:"-"`
	Start int    `yaml:"start"`
	Len   int    `yaml:"len"`
	Mask  byte   `yaml:"mask"`
	Owner Owner  `yaml:"-"`
}

func (z Zone) End() int { return z.Start + z.Len }

func (z Zone) overlaps(o Zone) bool {
	if z.Start >= o.End() || o.Start >= z.End() {
		return false
	}
	return z.Mask&o.Mask != 0
}

// Layout partitions the GPIO array between the cartridge and the bridge.
type Layout struct {
	Size int `yaml:"size"`

	Outbound     Zone `yaml:"outbound"`
	Inbound      Zone `yaml:"inbound"`
	Options      Zone `yaml:"options"`
	FateReceived Zone `yaml:"fate_received"`
	FatePending  Zone `yaml:"fate_pending"`
	Message      Zone `yaml:"message"`
}

// DefaultLayout matches the cartridge build shipped with the apworld.
func DefaultLayout() Layout {
	l := Layout{
		Size:         Size,
		Outbound:     Zone{Start: 0, Len: 10, Mask: 0xff},
		Inbound:      Zone{Start: 10, Len: 10, Mask: 0xff},
		Options:      Zone{Start: 20, Len: 1, Mask: 0xff},
		FateReceived: Zone{Start: 25, Len: 1, Mask: 0x01},
		FatePending:  Zone{Start: 25, Len: 1, Mask: 0x02},
		Message:      Zone{Start: 37, Len: Size - 37, Mask: 0xff},
	}
	l.Normalize()
	return l
}

// Normalize fills names, owners and zero masks. Owners are fixed by role and
// cannot be configured.
func (l *Layout) Normalize() {
	if l.Size <= 0 {
		l.Size = Size
	}
	set := func(z *Zone, name string, owner Owner) {
		z.Name = name
		z.Owner = owner
		if z.Mask == 0 {
			z.Mask = 0xff
		}
	}
	set(&l.Outbound, "outbound", OwnerGame)
	set(&l.Inbound, "inbound", OwnerBridge)
	set(&l.Options, "options", OwnerBridge)
	set(&l.FateReceived, "fate_received", OwnerBridge)
	set(&l.FatePending, "fate_pending", OwnerGame)
	set(&l.Message, "message", OwnerBridge)
}

func (l Layout) Zones() []Zone {
	return []Zone{l.Outbound, l.Inbound, l.Options, l.FateReceived, l.FatePending, l.Message}
}

// Validate rejects zones outside the array and any two zones sharing a bit.
func (l Layout) Validate() error {
	zs := l.Zones()
	for _, z := range zs {
		if z.Len <= 0 {
			return fmt.Errorf("zone %s: empty", z.Name)
		}
		if z.Start < 0 || z.End() > l.Size {
			return fmt.Errorf("zone %s: [%d,%d) outside region of %d", z.Name, z.Start, z.End(), l.Size)
		}
	}
	for i := 0; i < len(zs); i++ {
		for j := i + 1; j < len(zs); j++ {
			if zs[i].overlaps(zs[j]) {
				return fmt.Errorf("zones %s and %s overlap", zs[i].Name, zs[j].Name)
			}
		}
	}
	if l.FateReceived.Len != 1 || l.FatePending.Len != 1 {
		return fmt.Errorf("fate zones must be a single byte")
	}
	return nil
}

// Fits checks that every bit of t lands inside z.
func (l Layout) Fits(t *flags.Table, z Zone) error {
	if z.Mask != 0xff {
		return fmt.Errorf("zone %s: bitfield zones need a full mask", z.Name)
	}
	if max := t.MaxBit(); max/8 >= z.Len {
		return fmt.Errorf("table %s: bit %d does not fit zone %s (%d bytes)", t.Name(), max, z.Name, z.Len)
	}
	return nil
}

// ValidateTables runs Validate and checks both flag tables against their zones.
func (l Layout) ValidateTables(inbound, outbound *flags.Table) error {
	if err := l.Validate(); err != nil {
		return err
	}
	if err := l.Fits(inbound, l.Inbound); err != nil {
		return err
	}
	return l.Fits(outbound, l.Outbound)
}

// OwnedMask returns, for every byte of the region, the bits owned by o.
// Bytes outside any zone are unowned.
func (l Layout) OwnedMask(o Owner) []byte {
	m := make([]byte, l.Size)
	for _, z := range l.Zones() {
		if z.Owner != o {
			continue
		}
		for i := z.Start; i < z.End() && i < len(m); i++ {
			if i >= 0 {
				m[i] |= z.Mask
			}
		}
	}
	return m
}
