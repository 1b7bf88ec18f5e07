package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"p8link.dev/internal/apclient"
	"p8link.dev/internal/bridge"
	"p8link.dev/internal/persistence/indexdb"
)

type bridgeStatus interface{ Status() bridge.Status }
type sessionStatus interface{ Status() apclient.Status }
type consoleStatus interface{ Clients() int }

type statusResponse struct {
	Bridge   bridge.Status   `json:"bridge"`
	Session  apclient.Status `json:"session"`
	Consoles int             `json:"consoles"`
	Index    *indexdb.Stats  `json:"index,omitempty"`
	Counts   map[string]int  `json:"audit_counts,omitempty"`
}

func statusHandler(b bridgeStatus, s sessionStatus, c consoleStatus, idx *indexdb.SQLiteIndex) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		resp := statusResponse{
			Bridge:   b.Status(),
			Session:  s.Status(),
			Consoles: c.Clients(),
		}
		if idx != nil {
			st := idx.Stats()
			resp.Index = &st
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			if counts, err := idx.CountByKind(ctx); err == nil {
				resp.Counts = counts
			}
			cancel()
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func auditsHandler(idx *indexdb.SQLiteIndex) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		entries, err := idx.Recent(ctx, r.URL.Query().Get("kind"), limit)
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
			return
		}
		if entries == nil {
			entries = []bridge.AuditEntry{}
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "entries": entries})
	}
}
