package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"fivecut/internal/config"
	"fivecut/internal/gateway"
	"fivecut/internal/logging"
	"fivecut/internal/queue"
	"fivecut/internal/workflow"
)

const shutdownGrace = 10 * time.Second

// Daemon supervises the background workers and the HTTP gateway.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *queue.Store
	manager *workflow.Manager
	server  *gateway.Server

	lockPath  string
	lock      *flock.Flock
	running   atomic.Bool
	serverErr chan error
}

// Status reports daemon runtime information.
type Status struct {
	Running      bool
	Bind         string
	QueueDBPath  string
	LockFilePath string
	Jobs         map[queue.Status]int
}

// New constructs a daemon from initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, manager *workflow.Manager, server *gateway.Server) (*Daemon, error) {
	if cfg == nil || store == nil || manager == nil || server == nil {
		return nil, errors.New("daemon requires config, store, workflow manager, and gateway server")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "fivecutd.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		manager:  manager,
		server:   server,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock, launches the workflow manager, and
// begins serving the gateway.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another fivecut daemon instance is already running")
	}

	if err := d.manager.Start(ctx); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}

	d.serverErr = make(chan error, 1)
	go func() {
		d.serverErr <- d.server.Start()
	}()

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("bind", d.cfg.Paths.APIBind),
		logging.String("lock", d.lockPath))
	return nil
}

// Stop drains the gateway, stops the workers, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("gateway shutdown", logging.Error(err))
	}
	if err := <-d.serverErr; err != nil {
		d.logger.Warn("gateway serve", logging.Error(err))
	}

	d.manager.Stop()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon and closes the queue store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Status returns current runtime information.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	stats, err := d.store.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Running:      d.running.Load(),
		Bind:         d.cfg.Paths.APIBind,
		QueueDBPath:  d.cfg.QueueDatabasePath(),
		LockFilePath: d.lockPath,
		Jobs:         stats,
	}, nil
}
