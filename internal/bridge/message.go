package bridge

import (
	"fmt"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fallback labels for slots and items we cannot resolve.
const (
	unknownParticipant = "someone"
	unknownItem        = "unknown item"
)

func msgFound(item string) string         { return "found " + item }
func msgGot(item, from string) string     { return fmt.Sprintf("got %s from %s", item, from) }
func msgDecoyFound() string               { return "found counterfeit medal :(" }
func msgDecoyGot(from string) string      { return fmt.Sprintf("got counterfeit medal from %s :(", from) }
func msgSent(item, to string) string      { return fmt.Sprintf("sent %s to %s", item, to) }
func msgDeathLinkedBy(from string) string { return "deathlinked by " + from }

const (
	msgDeathLinked   = "deathlinked"
	msgSentDeathLink = "sent deathlink"
)

// consoleText lower-cases s and folds it to printable ASCII: accents are
// stripped, anything else outside 0x20..0x7e becomes '?'.
func consoleText(s string) []byte {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), cases.Lower(language.Und), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	out := make([]byte, 0, len(folded))
	for _, r := range folded {
		if r < 0x20 || r > 0x7e {
			out = append(out, '?')
			continue
		}
		out = append(out, byte(unicode.ToLower(r)))
	}
	return out
}

// messageFrame renders s into a window of n cells: truncated when longer,
// zero-filled when shorter.
func messageFrame(s string, n int) []byte {
	frame := make([]byte, n)
	copy(frame, consoleText(s))
	return frame
}
