package bridge

import (
	"context"
	"encoding/json"
	"time"

	"p8link.dev/internal/gpio"
	"p8link.dev/internal/protocol"
)

// label names a slot for status text.
func (b *Bridge) label(slot int) string {
	if p, ok := b.roster.Slot(slot); ok && p.DisplayName() != "" {
		return p.DisplayName()
	}
	return unknownParticipant
}

// applyItems sets one inbound bit per newly received item. Index 0 is a full
// resync: the zone is cleared first, so replays end in the same state as
// incremental delivery. Items whose bit is already set are skipped silently.
func (b *Bridge) applyItems(ri protocol.ReceivedItems) {
	zone := b.cfg.Layout.Inbound
	if ri.Index == 0 {
		b.mem.Fill(gpio.OriginBridge, zone.Start, make([]byte, zone.Len))
		b.record(AuditEntry{Kind: AuditResync, Text: "inbound zone cleared"})
	}
	// Local copy of the zone so several items in one batch see each other.
	cells := b.mem.Snapshot()[zone.Start:zone.End()]

	for _, it := range ri.Items {
		f, ok := b.cfg.Inbound.ByID(it.Item)
		if !ok {
			continue
		}
		self := it.Player == b.self.Slot
		if !f.HasBit() {
			if self {
				b.render(msgDecoyFound())
			} else {
				b.render(msgDecoyGot(b.label(it.Player)))
			}
			b.record(AuditEntry{Kind: AuditItem, IDs: []int64{it.Item}, Slot: it.Player, Name: f.Name})
			continue
		}

		k := f.ByteIndex()
		if cells[k]&f.Mask() != 0 {
			continue
		}
		cells[k] |= f.Mask()
		b.mem.SetBits(gpio.OriginBridge, zone.Start+k, f.Mask())
		if self {
			b.render(msgFound(f.Name))
		} else {
			b.render(msgGot(f.Name, b.label(it.Player)))
		}
		b.record(AuditEntry{Kind: AuditItem, IDs: []int64{it.Item}, Slot: it.Player, Name: f.Name})
	}
}

// applyBounced honors DeathLink broadcasts from other participants: it sets
// the received bit and feeds the shared tolerance counter.
func (b *Bridge) applyBounced(ctx context.Context, pkt protocol.Bounced) {
	if !pkt.HasTag(protocol.TagDeathLink) || !b.options.DeathLink {
		return
	}
	var d protocol.DeathLinkData
	if len(pkt.Data) > 0 {
		if err := json.Unmarshal(pkt.Data, &d); err != nil {
			b.log.Printf("deathlink: bad data: %v", err)
		}
	}

	origin, resolved := Participant{}, false
	if name, ok := d.SourceName(); ok {
		if name == b.self.Name {
			return
		}
		origin, resolved = b.roster.ByName(name)
	} else if slot, ok := d.SourceSlot(); ok {
		if slot == b.self.Slot {
			return
		}
		origin, resolved = b.roster.Slot(slot)
	}

	z := b.cfg.Layout.FateReceived
	b.mem.SetBits(gpio.OriginBridge, z.Start, z.Mask)
	if resolved && origin.DisplayName() != "" {
		b.render(msgDeathLinkedBy(origin.DisplayName()))
	} else {
		b.render(msgDeathLinked)
	}
	b.record(AuditEntry{Kind: AuditFateIn, Slot: origin.Slot, Name: origin.Name, Text: d.Cause})

	if b.fate.Absorb() {
		b.sendFate(ctx)
	}
}

// applyLocationInfo announces items we placed in other worlds. Our own items
// are announced by the matching ReceivedItems instead.
func (b *Bridge) applyLocationInfo(info protocol.LocationInfo) {
	for _, loc := range info.Locations {
		if loc.Player == b.self.Slot {
			continue
		}
		game := ""
		if p, ok := b.roster.Slot(loc.Player); ok {
			game = p.Game
		}
		item, ok := b.session.ItemName(game, loc.Item)
		if !ok {
			item = unknownItem
		}
		b.render(msgSent(item, b.label(loc.Player)))
		b.record(AuditEntry{Kind: AuditReveal, IDs: []int64{loc.Location, loc.Item}, Slot: loc.Player, Name: item})
	}
}

type deathLinkOut struct {
	Time   float64 `json:"time"`
	Cause  string  `json:"cause,omitempty"`
	Source string  `json:"source"`
}

// sendFate broadcasts one DeathLink tagged with our slot name.
func (b *Bridge) sendFate(ctx context.Context) {
	now := time.Now()
	data := deathLinkOut{
		Time:   float64(now.UnixNano()) / 1e9,
		Cause:  b.self.Name + " died",
		Source: b.self.Name,
	}
	cctx, cancel := b.callCtx(ctx)
	err := b.session.SendBounce(cctx, []string{protocol.TagDeathLink}, data)
	cancel()
	if err != nil {
		b.callFailed("bounce", nil, err)
		return
	}
	b.record(AuditEntry{Kind: AuditFateOut, Slot: b.self.Slot, Name: b.self.Name})
}
