package bridge

import (
	"context"
	"fmt"

	"p8link.dev/internal/gpio"
	"p8link.dev/internal/protocol"
)

// Options are the negotiated per-slot settings from slot_data.
type Options struct {
	DeathLink        bool `json:"death_link"`
	DeathLinkAmnesty int  `json:"death_link_amnesty"`
	MedalHunt        bool `json:"medal_hunt"`
	ExtraCheckpoint  bool `json:"extra_checkpoint"`
	ExtraChecks      bool `json:"extra_checks"`
}

// Option summary bits as read by the cartridge.
const (
	OptInitialized     byte = 1 << 0
	OptDeathLink       byte = 1 << 1
	OptMedalHunt       byte = 1 << 2
	OptExtraCheckpoint byte = 1 << 3
	OptExtraChecks     byte = 1 << 4
)

func OptionsFromSlotData(sd protocol.SlotData) Options {
	return Options{
		DeathLink:        bool(sd.DeathLink),
		DeathLinkAmnesty: sd.DeathLinkAmnesty,
		MedalHunt:        bool(sd.MedalHunt),
		ExtraCheckpoint:  bool(sd.ExtraCheckpoint),
		ExtraChecks:      bool(sd.ExtraChecks),
	}
}

// Byte is the option summary; OptInitialized is always set.
func (o Options) Byte() byte {
	v := OptInitialized
	if o.DeathLink {
		v |= OptDeathLink
	}
	if o.MedalHunt {
		v |= OptMedalHunt
	}
	if o.ExtraCheckpoint {
		v |= OptExtraCheckpoint
	}
	if o.ExtraChecks {
		v |= OptExtraChecks
	}
	return v
}

// bootstrap runs on every Connected packet, including after a reconnect.
// The checked-location set is kept across reconnects.
func (b *Bridge) bootstrap(ctx context.Context, c protocol.Connected) error {
	sd, err := protocol.ParseSlotData(c.SlotData)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOptionFetch, err)
	}
	opts := OptionsFromSlotData(sd)

	roster := NewRoster(c)
	self, ok := roster.Slot(c.Slot)
	if !ok {
		self = Participant{Slot: c.Slot}
	}

	b.roster = roster
	b.self = self
	b.options = opts
	b.optionByte = opts.Byte()
	b.goalSent = false
	b.lastErr = ""
	b.mem.Set(gpio.OriginBridge, b.cfg.Layout.Options.Start, b.optionByte)

	if opts.DeathLink {
		b.fate.Reset(opts.DeathLinkAmnesty)
		cctx, cancel := b.callCtx(ctx)
		err := b.session.SendConnectUpdate(cctx, []string{protocol.TagDeathLink})
		cancel()
		if err != nil {
			b.callFailed("connect_update", nil, err)
		}
	}

	b.ready = true
	b.log.Printf("bootstrap slot=%d name=%q players=%d options=%#x deathlink=%t amnesty=%d",
		self.Slot, self.Name, roster.Len(), b.optionByte, opts.DeathLink, b.fate.Tolerance())
	b.record(AuditEntry{Kind: AuditBootstrap, Slot: self.Slot, Name: self.Name, Text: fmt.Sprintf("options=%#x", b.optionByte)})

	cctx, cancel := b.callCtx(ctx)
	err = b.session.SendSync(cctx)
	cancel()
	if err != nil {
		b.callFailed("sync", nil, err)
	}

	// Bits set while we were offline have not been scanned yet.
	b.queue.push(event{kind: evPoll})
	return nil
}

func (b *Bridge) callFailed(call string, ids []int64, err error) {
	b.lastErr = fmt.Sprintf("%s: %v", call, err)
	b.log.Printf("%s failed ids=%v: %v", call, ids, err)
	b.record(AuditEntry{Kind: AuditCallError, IDs: ids, Text: call, Err: err.Error()})
}
