package bridge

import "testing"

func TestRoster(t *testing.T) {
	r := NewRoster(connected(`{}`))
	if r.Len() != 3 {
		t.Fatalf("len=%d want=3", r.Len())
	}
	p, ok := r.Slot(2)
	if !ok || p.Name != "bob" || p.Alias != "Ada" || p.Game != "OtherGame" || p.DisplayName() != "Ada" {
		t.Fatalf("slot 2: %+v", p)
	}
	if p, ok := r.Slot(3); !ok || p.DisplayName() != "Carol" {
		t.Fatalf("slot 3: %+v", p)
	}
	if p, ok := r.Slot(0); !ok || p.Name != ServerName {
		t.Fatalf("slot 0: %+v", p)
	}
	if _, ok := r.Slot(4); ok {
		t.Fatalf("slot of another team resolved")
	}
	if p, ok := r.ByName("bob"); !ok || p.Slot != 2 {
		t.Fatalf("ByName(bob): %+v", p)
	}
	if _, ok := r.ByName("Ada"); ok {
		t.Fatalf("ByName must match the declared name, not the alias")
	}
}
