package main

import (
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/catalog"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/config"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/logging"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/storage"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/worker"
)

var cliLog = logging.ForComponent(logging.CompCLI)

// stack is one worker plus the resources it owns.
type stack struct {
	worker   *worker.Worker
	sessions *storage.Sessions
	catalog  *catalog.Catalog
}

// openStack takes the session directory lock, opens the catalog and builds
// the worker. A catalog that cannot be opened is logged and skipped.
func openStack(cfg *config.Config, stateDir string) (*stack, error) {
	st := &stack{}
	var opts []worker.Option

	if cfg.Storage.InMemory {
		opts = append(opts, worker.WithBackend(storage.NewMemBackend(nil)))
	} else {
		sessions, err := storage.OpenSessions(cfg.Storage.Dir)
		if err != nil {
			return nil, err
		}
		st.sessions = sessions
		opts = append(opts, worker.WithSessions(sessions))
	}

	if cfg.CatalogEnabled() {
		cat, err := openCatalog(cfg.Catalog.Path)
		if err != nil {
			cliLog.Warn("catalog_unavailable",
				slog.String("path", cfg.Catalog.Path), slog.String("error", err.Error()))
		} else {
			st.catalog = cat
			opts = append(opts, worker.WithObserver(cat))
		}
	}

	w, err := worker.New(cfg.WorkerConfig(filepath.Join(stateDir, "crash")), opts...)
	if err != nil {
		st.close()
		return nil, err
	}
	st.worker = w
	return st, nil
}

func openCatalog(path string) (*catalog.Catalog, error) {
	cat, err := catalog.Open(path)
	if err != nil {
		return nil, err
	}
	if err := cat.Migrate(); err != nil {
		cat.Close()
		return nil, err
	}
	return cat, nil
}

// close releases the lock and the catalog. Call it after the worker's Run
// has returned so the session file is already flushed.
func (s *stack) close() error {
	var errs []error
	if s.sessions != nil {
		errs = append(errs, s.sessions.Close())
	}
	if s.catalog != nil {
		errs = append(errs, s.catalog.Close())
	}
	return errors.Join(errs...)
}
