// Package daemon runs the distribution daemon: it owns every long-lived
// handle and drives scans, dispatch, sweeps and worker reaping from one loop.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/franksops/gofanout/config"
	"github.com/franksops/gofanout/consumer"
	"github.com/franksops/gofanout/engine"
	"github.com/franksops/gofanout/handoff"
	"github.com/franksops/gofanout/jobdb"
	"github.com/franksops/gofanout/store"
	"github.com/franksops/gofanout/targets"
)

var (
	// ErrAlreadyRunning is returned when another daemon holds the work
	// directory lock.
	ErrAlreadyRunning = errors.New("daemon already running")
	// ErrDatabaseMismatch means a reread configuration produced a job
	// database that cannot be trusted.
	ErrDatabaseMismatch = errors.New("job database mismatch")
)

// Consumer is a downstream channel the daemon owns.
type Consumer interface {
	handoff.Consumer
	io.Closer
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithConsumer replaces the configured downstream consumer.
func WithConsumer(c Consumer) Option {
	return func(d *Daemon) { d.consumer = c }
}

// WithProviderFactory replaces how remote directories are opened.
func WithProviderFactory(f engine.ProviderFactory) Option {
	return func(d *Daemon) { d.providers = f }
}

// Daemon is the single owner of the job database, registry and worker pool.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	instance string
	started  time.Time

	lock       *flock.Flock
	store      *store.BoltStore
	table      *targets.FileTable
	consumer   Consumer
	providers  engine.ProviderFactory
	buffer     *handoff.Buffer
	registry   *engine.Registry
	counters   *engine.Counters
	scanner    *engine.Scanner
	dispatcher *engine.Dispatcher
	sup        *engine.Supervisor
	sweeper    *engine.Sweeper
	retriever  *engine.Retriever
	watcher    *dirWatcher
	rescans    *rescanQueue

	// db is only touched by the loop goroutine.
	db *jobdb.Database

	reload chan struct{}
	ready  chan struct{}
}

// New prepares a daemon. Nothing is opened until Run.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Daemon {
	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		instance:  uuid.NewString(),
		providers: engine.S3Factory,
		rescans:   newRescanQueue(),
		reload:    make(chan struct{}, 1),
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Reload asks the loop to reread the distribution configuration.
func (d *Daemon) Reload() {
	select {
	case d.reload <- struct{}{}:
	default:
	}
}

// Ready is closed once the daemon has opened everything and is scanning.
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// Run holds the work directory until ctx is cancelled or a fatal error
// occurs. In-flight workers are drained before it returns.
func (d *Daemon) Run(ctx context.Context) (err error) {
	if err := os.MkdirAll(d.cfg.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	d.lock = flock.New(d.cfg.LockPath())
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock work dir: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w in %s", ErrAlreadyRunning, d.cfg.WorkDir)
	}
	if err := os.WriteFile(d.cfg.PIDPath(), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		d.lock.Unlock()
		return fmt.Errorf("write pid file: %w", err)
	}

	defer func() {
		if cerr := d.close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	if err := d.open(ctx); err != nil {
		return err
	}

	d.started = time.Now()
	d.logger.Info("daemon started",
		"instance", d.instance,
		"work_dir", d.cfg.WorkDir,
		"directories", len(d.db.Directories),
		"destinations", d.db.DestinationCount(),
		"jobs", d.registry.Len(),
		"max_process", d.cfg.MaxProcess,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.table.Watch(gctx, func() { d.logger.Debug("target table changed") })
	})
	g.Go(func() error { return d.watcher.Run(gctx) })
	g.Go(func() error { return d.loop(gctx) })
	return g.Wait()
}

func (d *Daemon) open(ctx context.Context) error {
	cfg := d.cfg
	for _, dir := range []string{cfg.PoolDir(), cfg.OutgoingDir(), cfg.TimeDir(), cfg.IncomingDir(), cfg.MessageDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	var err error
	if d.store, err = store.NewBoltStore(cfg.StorePath()); err != nil {
		return err
	}
	if d.table, err = targets.OpenFile(cfg.TargetsFile, d.logger); err != nil {
		return err
	}
	if d.consumer == nil {
		c, err := openConsumer(ctx, cfg.Consumer)
		if err != nil {
			return err
		}
		d.consumer = c
	}
	if d.buffer, err = handoff.NewBuffer(d.consumer, d.store, d.logger); err != nil {
		return fmt.Errorf("load message backlog: %w", err)
	}
	if d.registry, err = engine.NewRegistry(d.store, cfg.MessageDir(), d.logger); err != nil {
		return err
	}

	d.counters = engine.NewCounters()
	buffers := engine.NewBufferPool(cfg.BufferSize)
	mover := engine.NewMover(buffers, cfg.Checksum)
	stager := engine.NewStager(engine.NewNamer(), config.Seconds(cfg.DiskFullRescanTime), d.logger)

	d.scanner = engine.NewScanner(engine.ScannerOptions{
		PoolDir:      cfg.PoolDir(),
		MaxFiles:     cfg.MaxBatchFiles,
		MaxBytes:     cfg.MaxBatchBytes,
		InputRecords: cfg.Log.InputRecords,
	}, mover, stager, d.counters, d.logger)
	d.dispatcher = engine.NewDispatcher(engine.DispatcherOptions{
		OutgoingDir:       cfg.OutgoingDir(),
		TimeDir:           cfg.TimeDir(),
		MaxFilesToProcess: cfg.MaxFilesToProcess,
	}, mover, stager, d.counters, d.table, d.registry, d.buffer, d.logger)
	d.sup = engine.NewSupervisor(ctx, cfg.MaxProcess, d.dispatcher.Finalize, d.logger)
	d.dispatcher.SetPool(d.sup)
	d.sweeper = engine.NewSweeper(d.counters, d.logger)
	d.retriever = engine.NewRetriever(d.providers, buffers, cfg.MaxBatchFiles, d.logger)

	if d.db, err = d.buildDB(); err != nil {
		return err
	}
	if d.watcher, err = newDirWatcher(d.logger, max(cfg.DirectoryCountHint, len(d.db.Directories))); err != nil {
		return err
	}
	d.watcher.Set(d.db)
	d.recoverPool()
	return nil
}

func openConsumer(ctx context.Context, c config.Consumer) (Consumer, error) {
	if c.Kind == config.ConsumerSQS {
		q, err := consumer.NewSQS(ctx, c.QueueURL, c.SQSRegion)
		if err != nil {
			return nil, err
		}
		return q, nil
	}
	f, err := consumer.NewFIFO(c.FIFOPath)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (d *Daemon) buildDB() (*jobdb.Database, error) {
	dist, err := config.LoadDistribution(d.cfg.DistributionFile)
	if err != nil {
		return nil, err
	}
	return jobdb.Build(dist, d.store, jobdb.BuildOptions{
		WorkDir:          d.cfg.WorkDir,
		SpoolDir:         d.cfg.IncomingDir(),
		MaxProcessPerDir: d.cfg.MaxProcessPerDir,
	})
}

// close drains the workers and releases every handle, in reverse order
// of opening.
func (d *Daemon) close() error {
	var result *multierror.Error
	ctx := context.Background()

	if d.sup != nil {
		d.sup.Stop()
		if err := d.reap(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if d.buffer != nil {
		if err := d.buffer.Flush(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("flush backlog: %w", err))
		}
		if n := d.buffer.Backlog(); n > 0 {
			d.logger.Info("leaving buffered notifications for next start", "messages", n)
		}
	}
	if d.db != nil && d.sup != nil {
		d.writeStatus(time.Now())
	}
	if d.consumer != nil {
		if err := d.consumer.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close consumer: %w", err))
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close store: %w", err))
		}
	}
	if err := os.Remove(d.cfg.PIDPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		result = multierror.Append(result, err)
	}
	if err := d.lock.Unlock(); err != nil {
		result = multierror.Append(result, fmt.Errorf("unlock: %w", err))
	}
	d.logger.Info("daemon stopped", "instance", d.instance)
	return result.ErrorOrNil()
}

// ReadPID returns the pid recorded by a running daemon.
func ReadPID(cfg *config.Config) (int, error) {
	data, err := os.ReadFile(cfg.PIDPath())
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file: %w", err)
	}
	return pid, nil
}
