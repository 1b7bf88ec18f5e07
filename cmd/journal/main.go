// Command journal prints bridge audit journals (audit-*.jsonl.zst).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"p8link.dev/internal/bridge"
	"p8link.dev/internal/persistence/journal"
)

func main() {
	var (
		dir    = flag.String("dir", "./data/journal", "journal directory")
		file   = flag.String("file", "", "single journal file (overrides -dir)")
		kind   = flag.String("kind", "", "only print entries of this kind (comma separated)")
		since  = flag.Duration("since", 0, "only print entries newer than this (e.g. 2h)")
		asJSON = flag.Bool("json", false, "print raw JSON lines")
	)
	flag.Parse()

	kinds := map[string]bool{}
	for _, k := range strings.Split(*kind, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds[k] = true
		}
	}
	var cutoff time.Time
	if *since > 0 {
		cutoff = time.Now().Add(-*since)
	}

	counts := map[string]int{}
	enc := json.NewEncoder(os.Stdout)
	visit := func(e bridge.AuditEntry) error {
		if len(kinds) > 0 && !kinds[e.Kind] {
			return nil
		}
		if !cutoff.IsZero() && e.Time.Before(cutoff) {
			return nil
		}
		counts[e.Kind]++
		if *asJSON {
			return enc.Encode(e)
		}
		fmt.Println(formatEntry(e))
		return nil
	}

	var err error
	if *file != "" {
		err = journal.ReadFile(*file, visit)
	} else {
		files, ferr := journal.Files(*dir)
		if ferr == nil && len(files) == 0 {
			fmt.Fprintln(os.Stderr, "no journal files")
			os.Exit(2)
		}
		err = ferr
		if err == nil {
			err = journal.Each(*dir, cutoff, visit)
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	if !*asJSON {
		fmt.Fprintf(os.Stderr, "counts=%v\n", counts)
	}
}

func formatEntry(e bridge.AuditEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-10s", e.Time.UTC().Format(time.RFC3339), e.Kind)
	if e.Slot != 0 {
		fmt.Fprintf(&b, " slot=%d", e.Slot)
	}
	if e.Name != "" {
		fmt.Fprintf(&b, " name=%q", e.Name)
	}
	if len(e.IDs) > 0 {
		fmt.Fprintf(&b, " ids=%v", e.IDs)
	}
	if e.Text != "" {
		fmt.Fprintf(&b, " text=%q", e.Text)
	}
	if e.Err != "" {
		fmt.Fprintf(&b, " err=%q", e.Err)
	}
	return b.String()
}
