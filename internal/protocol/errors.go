package protocol

// ConnectionRefused error codes.
const (
	RefusedInvalidSlot          = "InvalidSlot"
	RefusedInvalidGame          = "InvalidGame"
	RefusedIncompatibleVersion  = "IncompatibleVersion"
	RefusedInvalidPassword      = "InvalidPassword"
	RefusedInvalidItemsHandling = "InvalidItemsHandling"
)

var knownRefusals = map[string]struct{}{
	RefusedInvalidSlot:          {},
	RefusedInvalidGame:          {},
	RefusedIncompatibleVersion:  {},
	RefusedInvalidPassword:      {},
	RefusedInvalidItemsHandling: {},
}

func IsKnownRefusal(code string) bool {
	_, ok := knownRefusals[code]
	return ok
}

// IsPermanentRefusal reports whether retrying the same Connect cannot succeed.
func IsPermanentRefusal(codes []string) bool {
	for _, c := range codes {
		switch c {
		case RefusedInvalidSlot, RefusedInvalidGame, RefusedInvalidPassword, RefusedIncompatibleVersion:
			return true
		}
	}
	return false
}
