package gpio

import (
	"testing"

	"p8link.dev/internal/flags"
)

func TestDefaultLayoutValid(t *testing.T) {
	l := DefaultLayout()
	if err := l.ValidateTables(flags.Inbound, flags.Outbound); err != nil {
		t.Fatalf("default layout: %v", err)
	}
	for _, z := range l.Zones() {
		if z.Owner == 0 || z.Name == "" {
			t.Fatalf("zone not normalized: %+v", z)
		}
	}
}

func TestLayoutRejectsOverlap(t *testing.T) {
	l := DefaultLayout()
	l.Message.Start = 19
	l.Message.Len = 10
	if err := l.Validate(); err == nil {
		t.Fatalf("expected overlap between inbound and message")
	}

	l = DefaultLayout()
	l.FatePending.Mask = 0x03
	if err := l.Validate(); err == nil {
		t.Fatalf("expected overlap between fate bits")
	}

	l = DefaultLayout()
	l.Message.Len = Size
	if err := l.Validate(); err == nil {
		t.Fatalf("expected out-of-range message zone")
	}
}

func TestLayoutFits(t *testing.T) {
	l := DefaultLayout()
	l.Outbound.Len = 1
	l.Normalize()
	if err := l.ValidateTables(flags.Inbound, flags.Outbound); err == nil {
		t.Fatalf("expected outbound bit 13 to overflow a one-byte zone")
	}
}

func TestBufferNotifiesOnlyOnChange(t *testing.T) {
	b := NewBuffer(Size)
	var got []Change
	cancel := b.Subscribe(func(c Change) { got = append(got, c) })

	b.Set(OriginConsole, 3, 7)
	b.Set(OriginConsole, 3, 7)
	b.SetBits(OriginBridge, 25, 1)
	b.SetBits(OriginBridge, 25, 1)
	b.ClearBits(OriginBridge, 25, 2)
	b.Fill(OriginBridge, Size-2, []byte{1, 2, 3, 4})

	if len(got) != 3 {
		t.Fatalf("expected 3 notifications, got %d: %+v", len(got), got)
	}
	if got[0].Origin != OriginConsole || got[0].Cells[0] != (Cell{Index: 3, Old: 0, New: 7}) {
		t.Fatalf("unexpected first change: %+v", got[0])
	}
	if len(got[2].Cells) != 2 {
		t.Fatalf("fill past the end should be truncated: %+v", got[2])
	}

	cancel()
	b.Set(OriginConsole, 4, 1)
	if len(got) != 3 {
		t.Fatalf("cancelled subscriber still notified")
	}
	if b.Get(4) != 1 || b.Get(-1) != 0 || b.Get(Size) != 0 {
		t.Fatalf("Get bounds")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	b := NewBuffer(8)
	b.Set(OriginConsole, 0, 9)
	s := b.Snapshot()
	s[0] = 0
	if b.Get(0) != 9 {
		t.Fatalf("snapshot aliases buffer")
	}
}

func TestMergeKeepsOwnedBits(t *testing.T) {
	b := NewBuffer(4)
	b.Set(OriginBridge, 1, 0x81)
	keep := []byte{0x00, 0x01, 0x00, 0x00}
	b.Merge(OriginConsole, 0, []byte{7, 0x02, 3, 4}, keep)
	got := b.Snapshot()
	want := []byte{7, 0x03, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("merge=%v want=%v", got, want)
		}
	}
}

func TestOwnedMask(t *testing.T) {
	l := DefaultLayout()
	game := l.OwnedMask(OwnerGame)
	bridge := l.OwnedMask(OwnerBridge)
	if game[0] != 0xff || bridge[0] != 0 {
		t.Fatalf("outbound byte: game=%#x bridge=%#x", game[0], bridge[0])
	}
	if game[25] != 0x02 || bridge[25] != 0x01 {
		t.Fatalf("fate byte: game=%#x bridge=%#x", game[25], bridge[25])
	}
	if bridge[12] != 0xff || bridge[20] != 0xff || bridge[127] != 0xff {
		t.Fatalf("bridge zones not owned")
	}
	if game[30]|bridge[30] != 0 {
		t.Fatalf("byte 30 belongs to no zone")
	}
}

func TestMergeAckedSkipsUnseenBridgeWrites(t *testing.T) {
	b := NewBuffer(4)
	b.Set(OriginConsole, 2, 0x02)
	_, seen := b.SnapshotSeq()
	b.ClearBits(OriginBridge, 2, 0x02)

	// Written before the clear was seen: cell 2 stays cleared.
	b.MergeAcked(OriginConsole, 0, []byte{1, 0, 0x02, 0}, nil, seen)
	if got := b.Snapshot(); got[0] != 1 || got[2] != 0 {
		t.Fatalf("stale merge: %v", got)
	}

	_, seen = b.SnapshotSeq()
	b.MergeAcked(OriginConsole, 2, []byte{0x02}, nil, seen)
	if got := b.Get(2); got != 0x02 {
		t.Fatalf("acked merge: cell2=%#x", got)
	}
}

func TestChangeSeqIncreases(t *testing.T) {
	b := NewBuffer(2)
	var seqs []uint64
	b.Subscribe(func(ch Change) { seqs = append(seqs, ch.Seq) })
	b.Set(OriginBridge, 0, 1)
	b.Set(OriginBridge, 0, 1) // no change, no seq
	b.Set(OriginConsole, 1, 1)
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Fatalf("seqs=%v", seqs)
	}
	if _, seq := b.SnapshotSeq(); seq != 2 {
		t.Fatalf("snapshot seq=%d", seq)
	}
}
