package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lguibr/lockstep/bollywood"
	"github.com/lguibr/lockstep/playset"
	"github.com/lguibr/lockstep/server"
	"github.com/lguibr/lockstep/store"
	"github.com/lguibr/lockstep/utils"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config file")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg := utils.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = utils.LoadConfig(*configPath)
		if err != nil {
			log.Error("loading config", slog.Any("error", err))
			os.Exit(1)
		}
	}

	registry := playset.NewRegistry()
	if err := registry.Register(playset.Dots{}); err != nil {
		log.Error("registering playset", slog.Any("error", err))
		os.Exit(1)
	}

	snap, err := store.Load(cfg.SnapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		log.Info("no snapshot found, seeding fresh server",
			slog.String("path", cfg.SnapshotPath))
		snap, err = store.Seed()
	}
	if err != nil {
		log.Error("loading snapshot", slog.Any("error", err))
		os.Exit(1)
	}

	engine := bollywood.NewEngine(log)

	shutdownCh := make(chan string, 1)
	serverPID := engine.Spawn(bollywood.NewProps(server.NewServerProducer(server.ServerArgs{
		Engine:   engine,
		Log:      log,
		Cfg:      cfg,
		Registry: registry,
		Snapshot: snap,
		OnShutdown: func(clean bool, reason string) {
			select {
			case shutdownCh <- reason:
			default:
			}
		},
	})))
	if serverPID == nil {
		log.Error("spawning server actor failed")
		os.Exit(1)
	}

	backupDir := cfg.BackupDir
	if backupDir == "" {
		backupDir = filepath.Dir(cfg.SnapshotPath)
	}
	collectAndBackup := func() error {
		res, err := engine.Ask(serverPID, server.CollectSnapshotRequest{}, 30*time.Second)
		if err != nil {
			return err
		}
		snap, ok := res.(*store.Snapshot)
		if !ok {
			return errors.New("unexpected snapshot reply")
		}
		if _, err := store.SaveBackup(backupDir, snap); err != nil {
			return err
		}
		return store.Rotate(backupDir, cfg.MaxBackups)
	}

	var autosave *store.Autosave
	if cfg.AutosaveSpec != "" {
		autosave, err = store.NewAutosave(cfg.AutosaveSpec, log, collectAndBackup)
		if err != nil {
			log.Error("bad autosave spec", slog.Any("error", err))
			os.Exit(1)
		}
		autosave.Start()
	}

	ws := server.New(engine, log, cfg, serverPID)
	wsServer := ws.WebsocketServer()
	mux := http.NewServeMux()
	mux.Handle("/subscribe", wsServer)

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	g, gctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		log.Info("listening", slog.String("addr", cfg.ListenAddr),
			slog.Bool("tls", cfg.TLSCert != ""))
		if cfg.TLSCert != "" {
			return httpServer.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		}
		return httpServer.ListenAndServe()
	})
	g.Go(func() error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

		select {
		case s := <-sig:
			log.Info("signal received", slog.String("signal", s.String()))
			// Best-effort forensic backup, same as a dirty shutdown.
			if err := collectAndBackup(); err != nil {
				log.Error("shutdown backup failed", slog.Any("error", err))
			}
		case reason := <-shutdownCh:
			log.Info("admin shutdown", slog.String("reason", reason))
		case <-gctx.Done():
			return gctx.Err()
		}

		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if autosave != nil {
			autosave.Stop(stopCtx)
		}
		_ = httpServer.Shutdown(stopCtx)
		engine.Shutdown(5 * time.Second)
		return http.ErrServerClosed
	})

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("server stopped")
}
