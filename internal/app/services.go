package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/foxzi/certly/internal/archive"
	"github.com/foxzi/certly/internal/certificate"
	"github.com/foxzi/certly/internal/config"
	"github.com/foxzi/certly/internal/element"
	"github.com/foxzi/certly/internal/element/types"
	"github.com/foxzi/certly/internal/filestore"
	"github.com/foxzi/certly/internal/issuance"
	"github.com/foxzi/certly/internal/lms"
	"github.com/foxzi/certly/internal/metrics"
	"github.com/foxzi/certly/internal/render"
)

// Services holds the stores and domain services shared by the server and
// the command line.
type Services struct {
	Store     *certificate.Store
	Directory lms.Directory
	Files     *filestore.Local
	Registry  *element.Registry
	Env       *element.Env
	Renderer  *render.Renderer
	Archiver  *archive.Archiver
	Issuance  *issuance.Service

	closers []io.Closer
}

// Open opens the stores named by cfg and wires the services on top
func Open(cfg *config.Config, logger *slog.Logger) (*Services, error) {
	s := &Services{}

	store, err := certificate.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	s.Store = store
	s.closers = append(s.closers, store)

	store.SetEventSink(certificate.MultiSink{
		certificate.LogSink{Logger: logger.With("component", "events")},
		certificate.EventSinkFunc(func(ctx context.Context, ev certificate.Event) {
			metrics.IncEvents(string(ev.Type))
		}),
	})

	dir, err := OpenDirectory(cfg.LMS, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Directory = dir
	if c, ok := dir.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}

	files, err := filestore.NewLocal(cfg.Files.Path)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Files = files

	s.Registry = types.NewRegistry()
	s.Env = &element.Env{
		Directory:  dir,
		Files:      files,
		Now:        time.Now,
		Logger:     logger.With("component", "element"),
		VerifyURL:  cfg.Verification.URL,
		DateFormat: cfg.Render.DateFormat,
		CodeFormat: cfg.Verification.CodeFormat,
	}
	fileURL := strings.TrimRight(cfg.Render.FileURL, "/")
	s.Renderer = render.New(s.Registry, s.Env, render.Options{
		Author:  cfg.Render.Author,
		Creator: cfg.Render.Creator,
		FileURL: func(key string) string { return fileURL + "/" + key },
	}, logger)
	s.Archiver = archive.New(store, s.Registry, s.Env, logger)
	s.Issuance = issuance.New(store, dir, s.Renderer, issuance.Config{
		CodeFormat:       cfg.Verification.CodeFormat,
		RequireEnrolment: cfg.Verification.RequireEnrolment,
	}, logger)

	return s, nil
}

// OpenDirectory opens the LMS directory of the configured driver. The
// sqlite driver loads fixtures, when configured, on top of what the
// database already holds.
func OpenDirectory(cfg config.LMSConfig, logger *slog.Logger) (lms.Directory, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		fixtures, err := lms.LoadFixtures(cfg.Fixtures)
		if err != nil {
			return nil, fmt.Errorf("failed to load fixtures: %w", err)
		}
		logger.Info("using in-memory LMS directory", "fixtures", cfg.Fixtures)
		return lms.NewMemory(fixtures), nil

	case config.DriverSQLite:
		dir, err := lms.OpenSQL(cfg.Path)
		if err != nil {
			return nil, err
		}
		if cfg.Fixtures != "" {
			fixtures, err := lms.LoadFixtures(cfg.Fixtures)
			if err != nil {
				dir.Close()
				return nil, fmt.Errorf("failed to load fixtures: %w", err)
			}
			if err := dir.Load(context.Background(), fixtures); err != nil {
				dir.Close()
				return nil, fmt.Errorf("failed to import fixtures: %w", err)
			}
			logger.Info("LMS fixtures imported", "fixtures", cfg.Fixtures)
		}
		return dir, nil
	}
	return nil, fmt.Errorf("unknown lms driver %q", cfg.Driver)
}

// Close closes the stores in reverse order of opening
func (s *Services) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}
