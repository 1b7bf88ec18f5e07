package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"p8link.dev/internal/apclient"
	"p8link.dev/internal/bridge"
	"p8link.dev/internal/config"
	"p8link.dev/internal/gpio"
	"p8link.dev/internal/persistence/indexdb"
	"p8link.dev/internal/persistence/journal"
	"p8link.dev/internal/transport/console"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/bridge.yaml", "bridge config path (optional)")
		server     = flag.String("server", "", "archipelago host:port or ws(s):// url (overrides config)")
		name       = flag.String("name", "", "slot name (overrides config)")
		password   = flag.String("password", "", "room password (overrides config)")
		addr       = flag.String("addr", "", "console http listen address (overrides config)")
		noJournal  = flag.Bool("no_journal", false, "disable the audit journal")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[p8bridge] ", log.LstdFlags|log.Lmicroseconds)

	err := run(logger, strings.TrimSpace(*configPath), func(c *config.Config) {
		if *server != "" {
			c.Archipelago.Server = *server
		}
		if *name != "" {
			c.Archipelago.Name = *name
		}
		if *password != "" {
			c.Archipelago.Password = *password
		}
		if *addr != "" {
			c.Console.Addr = *addr
		}
		if *noJournal {
			c.Journal.Enabled = false
		}
	})
	if err != nil {
		if errors.Is(err, apclient.ErrConnectionFailure) {
			logger.Printf("connection failed: %v", err)
		} else {
			logger.Printf("stopped: %v", err)
		}
		os.Exit(1)
	}
	logger.Printf("bye")
}

func run(logger *log.Logger, path string, flagOverrides func(*config.Config)) error {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			logger.Printf("config %s not found; using defaults", path)
			path = ""
		}
	}
	cfg, err := config.Load(path, flagOverrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var recorders []bridge.Recorder
	if cfg.Journal.Enabled {
		j := journal.Open(cfg.Journal.Dir)
		defer j.Close()
		recorders = append(recorders, j)
	}
	var idx *indexdb.SQLiteIndex
	if cfg.Index.Enabled {
		idx, err = indexdb.OpenSQLite(cfg.Index.Path, logger)
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer idx.Close()
		recorders = append(recorders, idx)
	}

	mem := gpio.NewBuffer(cfg.Layout.Size)
	client := apclient.New(apclient.Config{
		Server:           cfg.Archipelago.Server,
		Name:             cfg.Archipelago.Name,
		Password:         cfg.Archipelago.Password,
		Game:             cfg.Archipelago.Game,
		HandshakeTimeout: cfg.Archipelago.HandshakeTimeout,
		ReadTimeout:      cfg.Archipelago.ReadTimeout,
		WriteTimeout:     cfg.Archipelago.WriteTimeout,
	}, nil, logger)
	br, err := bridge.New(bridge.Config{
		Layout:      cfg.Layout,
		CallTimeout: cfg.CallTimeout,
		Recorders:   recorders,
	}, client, mem, logger)
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	client.SetHandler(br)

	consoleSrv := console.NewServer(mem, cfg.Layout, cfg.Console.AllowedOrigins, logger)
	defer consoleSrv.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/console", consoleSrv.Handler())
	mux.HandleFunc("/v1/status", statusHandler(br, client, consoleSrv, idx))
	if idx != nil {
		mux.HandleFunc("/v1/audits", auditsHandler(idx))
	}
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		_, _ = rw.Write([]byte("ok"))
	})
	if dir := strings.TrimSpace(cfg.Console.StaticDir); dir != "" {
		mux.Handle("/", http.FileServer(http.Dir(dir)))
	}

	httpSrv := &http.Server{
		Addr:              cfg.Console.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return br.Run(ctx)
	})
	g.Go(func() error {
		return client.Run(ctx)
	})
	g.Go(func() error {
		logger.Printf("console listening on http://%s (ws /v1/console)", cfg.Console.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		return nil
	})

	logger.Printf("connecting server=%s name=%s game=%s", cfg.Archipelago.Server, cfg.Archipelago.Name, cfg.Archipelago.Game)
	return g.Wait()
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
