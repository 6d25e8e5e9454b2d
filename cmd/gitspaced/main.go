// gitspaced is the workspace daemon: it owns the data directory, keeps
// repository mirrors current and manages workspace worktrees.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/codefionn/gitspace/internal/config"
	"github.com/codefionn/gitspace/internal/control"
	"github.com/codefionn/gitspace/internal/credentials"
	"github.com/codefionn/gitspace/internal/gitenv"
	"github.com/codefionn/gitspace/internal/lockfile"
	"github.com/codefionn/gitspace/internal/logger"
	"github.com/codefionn/gitspace/internal/secrets"
	"github.com/codefionn/gitspace/internal/securemem"
	"github.com/codefionn/gitspace/internal/store"
	"github.com/codefionn/gitspace/internal/syncer"
	"github.com/codefionn/gitspace/internal/workspace"
)

const version = "0.3.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	var (
		configPath  = flag.String("config", "", "path to config file (default <data-dir>/config.json)")
		dataDir     = flag.String("data-dir", "", "override the data directory")
		logLevel    = flag.String("log-level", "", "log level: debug, info, warn, error, none")
		logPath     = flag.String("log-file", "", "log file path (default <data-dir>/gitspaced.log)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("gitspaced %s\n", version)
		return nil
	}

	cfg, err := loadConfig(*configPath, *dataDir, *logLevel, *logPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	level := logger.ParseLevel(cfg.LogLevel)
	logFile := cfg.LogPath
	if logFile == "" {
		logFile = cfg.DefaultLogPath()
	}
	if err := logger.Init(level, logFile); err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	logger.Info("gitspaced %s starting (data dir %s)", version, cfg.DataDir)

	lock := lockfile.New(cfg.LockfilePath())
	if err := lock.TryAcquire(); err != nil {
		if errors.Is(err, lockfile.ErrLocked) {
			return fmt.Errorf("%w (data dir %s)", err, cfg.DataDir)
		}
		return err
	}
	defer lock.Release()

	defer securemem.Purge()
	master, err := secrets.LoadMasterKey(cfg.MasterKeyPath())
	if err != nil {
		return fmt.Errorf("load credential master key: %w", err)
	}
	defer master.Destroy()
	logger.Info("credential master key loaded (provenance %s, fingerprint %s)",
		master.Provenance(), master.Fingerprint())

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	// Repositories stuck in syncing status belong to a previous process
	// that died mid-sync; without this reset they would look busy forever.
	if n, err := st.ResetStuckSyncing("interrupted by daemon restart"); err != nil {
		return fmt.Errorf("reset stuck syncs: %w", err)
	} else if n > 0 {
		logger.Warn("marked %d interrupted sync(s) as failed", n)
	}

	vault := secrets.NewVault(master)
	envBuilder := gitenv.NewBuilder(cfg, st, st, vault)
	orch := syncer.NewOrchestrator(st, envBuilder, cfg)

	srv := control.NewServer(cfg.SocketPath(), control.Deps{
		Version: version,
		DataDir: cfg.DataDir,
		Store:   st,
		Vault:   vault,
		Env:     envBuilder,
		Repos:   syncer.NewService(st, orch, cfg),
		Work:    workspace.NewService(st, cfg, envBuilder),
		Creds:   credentials.NewService(st, vault),
	})
	if err := srv.Start(context.Background()); err != nil {
		return fmt.Errorf("start control server: %w", err)
	}
	defer srv.Stop()
	logger.Info("control server listening on %s", cfg.SocketPath())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received %s, shutting down", sig)

	// Let in-flight syncs finish so no repository is stranded in syncing.
	orch.Wait()
	logger.Info("gitspaced stopped")
	return nil
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(configPath, dataDir, logLevel, logPath string) (*config.Config, error) {
	if configPath == "" {
		base := dataDir
		if base == "" {
			base = config.Default().DataDir
		}
		configPath = filepath.Join(base, "config.json")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logPath != "" {
		cfg.LogPath = logPath
	}
	return cfg, nil
}
