package bridge

import (
	"context"

	"p8link.dev/internal/flags"
	"p8link.dev/internal/gpio"
)

// FatePlan is what a poll must do with the local fate bit.
type FatePlan struct {
	Drain bool
}

// CallPlan is the set of protocol calls one poll produces.
type CallPlan struct {
	Goal   bool
	Checks []int64
	Scouts []int64
}

func (p CallPlan) Empty() bool {
	return !p.Goal && len(p.Checks) == 0 && len(p.Scouts) == 0
}

// planFate reports whether the cartridge has a pending fate event to drain.
func planFate(snap []byte, layout gpio.Layout, opts Options) FatePlan {
	z := layout.FatePending
	return FatePlan{Drain: opts.DeathLink && snap[z.Start]&z.Mask != 0}
}

// planCalls scans the outbound zone. Every set location is checked; only
// locations missing from checked are scouted.
func planCalls(snap []byte, layout gpio.Layout, table *flags.Table, checked map[int64]struct{}) CallPlan {
	var p CallPlan
	zone := snap[layout.Outbound.Start:layout.Outbound.End()]
	for _, f := range table.All() {
		if !f.HasBit() || zone[f.ByteIndex()]&f.Mask() == 0 {
			continue
		}
		if !f.HasOffset() {
			p.Goal = true
			continue
		}
		id := f.ID()
		p.Checks = append(p.Checks, id)
		if _, ok := checked[id]; !ok {
			p.Scouts = append(p.Scouts, id)
		}
	}
	return p
}

// poll is the outbound synchronizer: fate first, then goal, checks, scouts.
func (b *Bridge) poll(ctx context.Context) {
	snap := b.mem.Snapshot()

	if planFate(snap, b.cfg.Layout, b.options).Drain {
		b.drainFate(ctx)
	}

	plan := planCalls(snap, b.cfg.Layout, b.cfg.Outbound, b.checked)
	if plan.Empty() {
		return
	}

	if plan.Goal && !b.goalSent {
		cctx, cancel := b.callCtx(ctx)
		err := b.session.SendGoal(cctx)
		cancel()
		if err != nil {
			b.callFailed("goal", nil, err)
		} else {
			b.goalSent = true
			b.log.Printf("goal sent slot=%d", b.self.Slot)
			b.record(AuditEntry{Kind: AuditGoal, Slot: b.self.Slot, Name: b.self.Name})
		}
	}

	if len(plan.Checks) > 0 {
		cctx, cancel := b.callCtx(ctx)
		err := b.session.SendChecks(cctx, plan.Checks)
		cancel()
		if err != nil {
			b.callFailed("checks", plan.Checks, err)
		} else {
			b.record(AuditEntry{Kind: AuditCheck, IDs: plan.Checks})
		}
	}

	if len(plan.Scouts) > 0 {
		cctx, cancel := b.callCtx(ctx)
		err := b.session.SendScouts(cctx, plan.Scouts, 0)
		cancel()
		if err != nil {
			b.callFailed("scouts", plan.Scouts, err)
			return
		}
		for _, id := range plan.Scouts {
			b.checked[id] = struct{}{}
		}
		b.record(AuditEntry{Kind: AuditScout, IDs: plan.Scouts})
	}
}

// drainFate consumes the cartridge's pending fate bit.
func (b *Bridge) drainFate(ctx context.Context) {
	z := b.cfg.Layout.FatePending
	b.mem.ClearBits(gpio.OriginBridge, z.Start, z.Mask)
	b.record(AuditEntry{Kind: AuditFateLocal, Slot: b.self.Slot, Name: b.self.Name})
	if !b.fate.Absorb() {
		return
	}
	b.sendFate(ctx)
	if b.fate.Tolerance() > 1 {
		b.render(msgSentDeathLink)
	}
}
