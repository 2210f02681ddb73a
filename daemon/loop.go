package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/franksops/gofanout/config"
	"github.com/franksops/gofanout/engine"
	"github.com/franksops/gofanout/jobdb"
)

// loop is the only goroutine that scans, dispatches synchronously, reaps
// workers or replaces the job database.
func (d *Daemon) loop(ctx context.Context) error {
	cfg := d.cfg
	rescan := time.NewTicker(config.Seconds(cfg.RescanInterval))
	defer rescan.Stop()
	sweep := time.NewTicker(config.Seconds(cfg.OldFileSearchInterval))
	defer sweep.Stop()
	timeJobs := time.NewTicker(config.Seconds(cfg.TimeJobInterval))
	defer timeJobs.Stop()
	defer d.rescans.Stop()

	if err := d.scanAll(ctx); err != nil {
		return err
	}
	d.writeStatus(time.Now())
	close(d.ready)

	for {
		var err error
		select {
		case <-ctx.Done():
			return nil
		case <-rescan.C:
			err = d.scanAll(ctx)
		case alias := <-d.watcher.Requests():
			err = d.scanRequested(ctx, alias)
		case now := <-d.rescans.C():
			err = d.scanAliases(ctx, d.rescans.Due(now))
		case <-d.reload:
			err = d.reloadDB()
		case <-d.sup.Wake():
			err = d.reap()
		case <-sweep.C:
			_, err = d.sweeper.Sweep(ctx, d.db, time.Now())
		case <-timeJobs.C:
			var n int
			n, err = d.dispatcher.ReleaseTimeJobs(ctx, d.db, time.Now())
			if n > 0 {
				d.logger.Debug("time jobs released", "jobs", n)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if engine.IsFatal(err) || errors.Is(err, ErrDatabaseMismatch) {
				d.logger.Error("fatal error, stopping", "error", err)
				return err
			}
			d.logger.Warn("loop step failed", "error", err)
		}

		if err := d.buffer.Flush(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("consumer write failed, stopping", "error", err)
			return fmt.Errorf("flush notifications: %w", err)
		}
		d.writeStatus(time.Now())
	}
}

// scanRequested scans alias and any other directory that asked meanwhile.
func (d *Daemon) scanRequested(ctx context.Context, alias string) error {
	pending := map[string]struct{}{alias: {}}
drain:
	for {
		select {
		case a := <-d.watcher.Requests():
			pending[a] = struct{}{}
		default:
			break drain
		}
	}
	aliases := make([]string, 0, len(pending))
	for a := range pending {
		aliases = append(aliases, a)
	}
	return d.scanAliases(ctx, aliases)
}

// scanAliases fully scans the named directories. Aliases that are no
// longer configured are ignored.
func (d *Daemon) scanAliases(ctx context.Context, aliases []string) error {
	for _, a := range aliases {
		dir, ok := d.db.Directory(a)
		if !ok {
			d.rescans.Remove(a)
			continue
		}
		if err := d.scanDir(ctx, dir, true); err != nil {
			return err
		}
	}
	return nil
}

// scanAll is the periodic pass. Local directories whose modification
// time has not moved since a complete pass are not listed again.
func (d *Daemon) scanAll(ctx context.Context) error {
	for _, dir := range d.db.Directories {
		if err := d.scanDir(ctx, dir, false); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// scanDir releases held files of targets that are active again, then
// collects and dispatches batches until the directory is drained or its
// time slice is used up. Unless force is set, an unchanged directory is
// not listed. Files still being written get the directory rescanned
// early.
func (d *Daemon) scanDir(ctx context.Context, dir *jobdb.WatchedDirectory, force bool) error {
	if dir.Remote {
		if _, err := d.retriever.Retrieve(ctx, dir); err != nil {
			d.logger.Warn("remote retrieval failed", "dir", dir.Alias, "error", err)
		}
	}

	for _, target := range dir.Targets() {
		st := d.table.Status(target)
		if st.Disabled || st.Paused {
			continue
		}
		if _, err := os.Stat(dir.HoldingDir(target)); err != nil {
			continue
		}
		batch, err := d.scanner.CollectHeld(ctx, dir, target, time.Now())
		if err == nil {
			_, err = d.dispatcher.Dispatch(ctx, batch, time.Now())
		}
		if err := d.handleScanErr(dir, err); err != nil {
			return err
		}
	}

	if !force && !dir.Remote && d.scanner.Unchanged(dir) {
		return nil
	}

	start := time.Now()
	limit := config.Seconds(d.cfg.OneDirCopyTimeout)
	deferred := 0
	defer func() {
		if deferred == 0 {
			d.rescans.Remove(dir.Alias)
			return
		}
		wait := min(d.cfg.DeferredRescanTime, d.cfg.RescanInterval)
		d.rescans.Add(dir.Alias, time.Now().Add(config.Seconds(wait)))
	}()
	for {
		batch, err := d.scanner.Collect(ctx, dir, time.Now())
		if err != nil {
			return d.handleScanErr(dir, err)
		}
		deferred += batch.Deferred
		out, err := d.dispatcher.Dispatch(ctx, batch, time.Now())
		if err := d.handleScanErr(dir, err); err != nil {
			return err
		}
		if !out.StillFull {
			return nil
		}
		if time.Since(start) > limit {
			d.logger.Info("directory still full after time slice, continuing next pass", "dir", dir.Alias)
			return nil
		}
	}
}

// handleScanErr logs per-directory failures and passes on the ones that
// must stop the daemon.
func (d *Daemon) handleScanErr(dir *jobdb.WatchedDirectory, err error) error {
	if err == nil {
		return nil
	}
	if engine.IsFatal(err) || errors.Is(err, context.Canceled) {
		return err
	}
	d.logger.Warn("scan failed", "dir", dir.Alias, "error", err)
	return nil
}

// reap collects finished workers. A worker whose notification could not
// be written stops the daemon like a synchronous failure would.
func (d *Daemon) reap() error {
	var fatalErr error
	for _, res := range d.sup.Reap() {
		if res.Err != nil && engine.IsFatal(res.Err) && fatalErr == nil {
			fatalErr = res.Err
		}
	}
	limit := config.Seconds(d.cfg.OneDirCopyTimeout)
	for _, slot := range d.sup.Overdue(time.Now(), limit) {
		d.logger.Warn("worker exceeds directory timeout", "dir", slot.DirAlias, "job", slot.JobID, "running", time.Since(slot.Started).Round(time.Second))
	}
	return fatalErr
}

// reloadDB replaces the job database from the distribution file. The
// registry and in-flight workers are kept.
func (d *Daemon) reloadDB() error {
	db, err := d.buildDB()
	if err != nil {
		if errors.Is(err, jobdb.ErrMismatch) {
			return fmt.Errorf("%w: %w", ErrDatabaseMismatch, err)
		}
		d.logger.Error("reload failed, keeping current configuration", "error", err)
		return nil
	}
	d.db = db
	d.watcher.Set(db)
	d.logger.Info("configuration reloaded", "directories", len(db.Directories), "destinations", db.DestinationCount())
	return nil
}

func (d *Daemon) writeStatus(now time.Time) {
	if err := WriteStatus(d.cfg.StatusPath(), d.status(now)); err != nil {
		d.logger.Warn("failed to write status", "error", err)
	}
}
