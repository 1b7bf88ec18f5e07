package bridge

// FateLedger is the single death-link tolerance counter. Both the local
// pending-send bit and received broadcasts feed it; every Tolerance absorbed
// events produce exactly one outgoing broadcast.
type FateLedger struct {
	tolerance int
	remaining int
}

// NewFateLedger treats tolerances below one as one.
func NewFateLedger(tolerance int) *FateLedger {
	l := &FateLedger{}
	l.Reset(tolerance)
	return l
}

func (l *FateLedger) Reset(tolerance int) {
	if tolerance < 1 {
		tolerance = 1
	}
	l.tolerance = tolerance
	l.remaining = tolerance
}

// Absorb records one fate event and reports whether a broadcast is due. The
// counter is back at Tolerance when it returns true.
func (l *FateLedger) Absorb() (emit bool) {
	l.remaining--
	if l.remaining <= 0 {
		l.remaining = l.tolerance
		return true
	}
	return false
}

func (l *FateLedger) Remaining() int { return l.remaining }
func (l *FateLedger) Tolerance() int { return l.tolerance }
