package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"p8link.dev/internal/bridge"
)

func writeAll(t *testing.T, j *Journal, entries ...bridge.AuditEntry) {
	t.Helper()
	for _, e := range entries {
		if err := j.WriteAudit(e); err != nil {
			t.Fatalf("write %s: %v", e.Kind, err)
		}
	}
}

func TestJournal_RotatesByEntryHour(t *testing.T) {
	dir := t.TempDir()
	j := Open(dir)
	at := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	writeAll(t, j,
		bridge.AuditEntry{Time: at, Kind: bridge.AuditCheck, IDs: []int64{19828412022}},
		bridge.AuditEntry{Time: at.Add(time.Second), Kind: bridge.AuditMessage, Text: "found key"},
		bridge.AuditEntry{Time: at.Add(2 * time.Minute), Kind: bridge.AuditGoal, Slot: 1},
	)
	if j.Written() != 3 {
		t.Fatalf("written=%d want=3", j.Written())
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := Files(dir)
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "audit-20260301-10.jsonl.zst" {
		t.Fatalf("files=%v", files)
	}
	if h, ok := FileHour(files[1]); !ok || !h.Equal(at.Add(time.Minute).Truncate(time.Hour)) {
		t.Fatalf("hour of %s = %v", files[1], h)
	}

	var kinds []string
	if err := Each(dir, time.Time{}, func(e bridge.AuditEntry) error {
		kinds = append(kinds, e.Kind)
		return nil
	}); err != nil {
		t.Fatalf("each: %v", err)
	}
	want := []string{bridge.AuditCheck, bridge.AuditMessage, bridge.AuditGoal}
	if len(kinds) != len(want) {
		t.Fatalf("kinds=%v want=%v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds=%v want=%v", kinds, want)
		}
	}
}

func TestEach_Since(t *testing.T) {
	dir := t.TempDir()
	j := Open(dir)
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	writeAll(t, j,
		bridge.AuditEntry{Time: at, Kind: bridge.AuditBootstrap},
		bridge.AuditEntry{Time: at.Add(2 * time.Hour), Kind: bridge.AuditScout},
		bridge.AuditEntry{Time: at.Add(2*time.Hour + 30*time.Minute), Kind: bridge.AuditFateOut},
	)
	_ = j.Close()

	var kinds []string
	if err := Each(dir, at.Add(2*time.Hour+time.Minute), func(e bridge.AuditEntry) error {
		kinds = append(kinds, e.Kind)
		return nil
	}); err != nil {
		t.Fatalf("each: %v", err)
	}
	if len(kinds) != 1 || kinds[0] != bridge.AuditFateOut {
		t.Fatalf("kinds=%v", kinds)
	}
}

func TestJournal_LateEntryAppendsToItsHour(t *testing.T) {
	dir := t.TempDir()
	j := Open(dir)
	at := time.Date(2026, 3, 1, 8, 10, 0, 0, time.UTC)
	writeAll(t, j,
		bridge.AuditEntry{Time: at, Kind: bridge.AuditItem},
		bridge.AuditEntry{Time: at.Add(time.Hour), Kind: bridge.AuditItem},
		bridge.AuditEntry{Time: at.Add(time.Minute), Kind: bridge.AuditReveal},
	)
	_ = j.Close()

	files, _ := Files(dir)
	if len(files) != 2 {
		t.Fatalf("files=%v", files)
	}
	n := 0
	if err := ReadFile(files[0], func(bridge.AuditEntry) error { n++; return nil }); err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 2 {
		t.Fatalf("first hour entries=%d want=2", n)
	}
}

func TestReadFile_Missing(t *testing.T) {
	if err := ReadFile("does-not-exist.jsonl.zst", func(bridge.AuditEntry) error { return nil }); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist, got %v", err)
	}
}
