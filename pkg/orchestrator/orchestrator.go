// Package orchestrator drives the daemon's top-level single-run/loop
// control flow across every configured connection, porting
// dbsync_daemon.py's main().
package orchestrator

import (
	"context"
	"time"

	"github.com/lutraconsulting/gdbsync/pkg/config"
	"github.com/lutraconsulting/gdbsync/pkg/geodiff"
	"github.com/lutraconsulting/gdbsync/pkg/notify"
	"github.com/lutraconsulting/gdbsync/pkg/projectstore"
	"github.com/lutraconsulting/gdbsync/pkg/rdb"
	"github.com/lutraconsulting/gdbsync/pkg/sync"
	"github.com/lutraconsulting/gdbsync/pkg/synclog"
	"github.com/lutraconsulting/gdbsync/pkg/syncerr"
	"github.com/lutraconsulting/gdbsync/pkg/workdir"
)

// Options mirrors the daemon's CLI flags that affect control flow (the
// rest, like --log-file, only affect how the caller builds the Logger and
// never reach this package).
type Options struct {
	SkipInit  bool
	SingleRun bool
	ForceInit bool
	// GeodiffVerbosity is the numeric GEODIFF_LOGGER_LEVEL (0-4).
	GeodiffVerbosity int
	// HTTPRetries tunes the project-store client's retry policy.
	HTTPRetries int
}

// connEngine bundles one connection's resolved SyncConnection with the
// Engine (and RDB pool, for shutdown) that drives it.
type connEngine struct {
	conn   sync.SyncConnection
	engine *sync.Engine
	pool   *rdb.Pool
}

// Run builds one Engine per configured connection and drives them through
// single-run or loop mode, exactly mirroring dbsync_daemon.py's main() body
// after argument parsing.
func Run(ctx context.Context, cfg *config.Config, opts Options, log synclog.Logger) error {
	if opts.ForceInit && opts.SkipInit {
		return syncerr.Configf("cannot use --force-init with --skip-init; initialization is required")
	}

	diff := &geodiff.Binary{Path: cfg.GeodiffExe, Verbosity: opts.GeodiffVerbosity}
	if err := diff.Locate(ctx); err != nil {
		return err
	}

	store := projectstore.NewHTTPClient(cfg.Mergin.URL, "", opts.HTTPRetries)
	log.Debug("logging in to the project store")
	if err := store.Login(ctx, cfg.Mergin.Username, cfg.Mergin.Password); err != nil {
		return err
	}

	var notifier *notify.Notifier
	if cfg.Notification != nil {
		notifier = notify.New(*cfg.Notification)
	}

	engines, err := buildEngines(ctx, cfg, store, diff, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, ce := range engines {
			ce.pool.Close()
		}
	}()

	fromGPKG := cfg.InitFrom == "gpkg"

	if opts.ForceInit {
		for _, ce := range engines {
			log.Debug("force-init: cleaning connection", "project", ce.conn.ProjectRef)
			if err := ce.engine.Clean(ctx, ce.conn, !fromGPKG); err != nil {
				return err
			}
		}
	}

	if !opts.SkipInit {
		for _, ce := range engines {
			log.Debug("initializing connection", "project", ce.conn.ProjectRef)
			if err := ce.engine.Init(ctx, ce.conn, fromGPKG); err != nil {
				return err
			}
		}
	}

	if opts.SingleRun {
		return runCycle(ctx, engines, log)
	}

	for {
		if err := runCycle(ctx, engines, log); err != nil {
			log.Error("sync cycle failed", "error", err)
			if notifier != nil {
				if sendErr := notifier.NotifyFailure(err.Error()); sendErr != nil {
					log.Error("failed to send failure notification", "error", sendErr)
				}
			}
		}

		if expired, err := store.TokenExpiresWithin(ctx); err == nil && expired {
			log.Debug("project store session token is expiring soon, logging in again")
			if err := store.Login(ctx, cfg.Mergin.Username, cfg.Mergin.Password); err != nil {
				log.Error("re-login to the project store failed", "error", err)
			}
		}

		log.Debug("going to sleep", "seconds", cfg.Daemon.SleepTime)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(cfg.Daemon.SleepTime) * time.Second):
		}
	}
}

// runCycle runs one pull+push for every connection, stopping at the first
// failure (mirroring dbsync_daemon.py's single try/except wrapping both
// calls for all connections in a run).
func runCycle(ctx context.Context, engines []connEngine, log synclog.Logger) error {
	for _, ce := range engines {
		log.Debug("pulling", "project", ce.conn.ProjectRef)
		if _, err := ce.engine.Pull(ctx, ce.conn); err != nil {
			return err
		}
		log.Debug("pushing", "project", ce.conn.ProjectRef)
		if _, err := ce.engine.Push(ctx, ce.conn); err != nil {
			return err
		}
	}
	return nil
}

// buildEngines resolves every configured connection into a connEngine,
// opening one RDB pool per connection (connections may point at different
// databases) and sharing the project-store client, DIFFTOOL wrapper and
// logger across all of them.
func buildEngines(ctx context.Context, cfg *config.Config, store projectstore.Client, diff geodiff.Tool, log synclog.Logger) ([]connEngine, error) {
	engines := make([]connEngine, 0, len(cfg.Connections))
	for _, c := range cfg.Connections {
		sc, err := c.SyncConnection()
		if err != nil {
			return nil, err
		}
		pool, err := rdb.Connect(ctx, sc.ConnInfo)
		if err != nil {
			for _, ce := range engines {
				ce.pool.Close()
			}
			return nil, err
		}
		wd := workdir.New(cfg.WorkingDir, sc.ProjectName(), sc.SyncFile)
		engines = append(engines, connEngine{
			conn: sc,
			engine: &sync.Engine{
				RDB:     pool,
				Store:   store,
				Diff:    diff,
				WorkDir: wd,
				Log:     log,
			},
			pool: pool,
		})
	}
	return engines, nil
}
