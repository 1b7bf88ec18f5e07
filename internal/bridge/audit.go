package bridge

import "time"

// Audit entry kinds.
const (
	AuditBootstrap = "bootstrap"
	AuditResync    = "resync"
	AuditItem      = "item"
	AuditCheck     = "check"
	AuditScout     = "scout"
	AuditGoal      = "goal"
	AuditFateIn    = "fate_in"
	AuditFateLocal = "fate_local"
	AuditFateOut   = "fate_out"
	AuditReveal    = "reveal"
	AuditMessage   = "message"
	AuditCallError = "call_error"
)

// AuditEntry is one bridge action, written to the journal and the index.
// Nothing reads entries back into bridge state.
type AuditEntry struct {
	Time time.Time `json:"time"`
	Kind string    `json:"kind"`
	IDs  []int64   `json:"ids,omitempty"`
	Slot int       `json:"slot,omitempty"`
	Name string    `json:"name,omitempty"`
	Text string    `json:"text,omitempty"`
	Err  string    `json:"err,omitempty"`
}

type Recorder interface {
	WriteAudit(AuditEntry) error
}

func (b *Bridge) record(e AuditEntry) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	for _, r := range b.cfg.Recorders {
		if err := r.WriteAudit(e); err != nil {
			b.log.Printf("audit %s: %v", e.Kind, err)
		}
	}
}
