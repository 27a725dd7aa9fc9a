package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/feedpulse/feedpulse/internal/models"
)

// ConfigError reports an invalid source or profile definition. These are fatal
// at startup and never retried.
type ConfigError struct {
	Entity string // "source" or "profile"
	ID     string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s %q: %s", e.Entity, e.ID, e.Reason)
}

// Catalog is the on-disk shape of the source/profile definitions.
type Catalog struct {
	Sources  []models.Source  `yaml:"sources"`
	Profiles []models.Profile `yaml:"profiles"`
}

// Loader owns source and profile definitions for the process lifetime.
// Reads are cheap (in-memory after first load); Reload swaps the catalog
// atomically under lock.
type Loader struct {
	path     string
	logger   *slog.Logger
	validate *validator.Validate

	mu      sync.RWMutex
	catalog Catalog
	byID    map[string]models.Source
}

// NewLoader reads and validates the catalog at path.
func NewLoader(path string, logger *slog.Logger) (*Loader, error) {
	l := &Loader{
		path:     path,
		logger:   logger,
		validate: validator.New(),
	}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Reload re-reads the catalog from disk. On validation failure the previous
// catalog stays in effect.
func (l *Loader) Reload() error {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}

	var cat Catalog
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return fmt.Errorf("parse catalog: %w", err)
	}

	byID, err := l.check(cat)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.catalog = cat
	l.byID = byID
	l.mu.Unlock()

	l.logger.Info("catalog loaded",
		"path", l.path,
		"sources", len(cat.Sources),
		"profiles", len(cat.Profiles),
	)
	return nil
}

// check validates the catalog and builds the source index.
func (l *Loader) check(cat Catalog) (map[string]models.Source, error) {
	byID := make(map[string]models.Source, len(cat.Sources))

	for _, s := range cat.Sources {
		if err := l.validate.Struct(s); err != nil {
			reason := err.Error()
			if s.Weight <= 0 {
				reason = fmt.Sprintf("weight must be > 0, got %v", s.Weight)
			}
			return nil, &ConfigError{Entity: "source", ID: s.ID, Reason: reason}
		}
		if _, dup := byID[s.ID]; dup {
			return nil, &ConfigError{Entity: "source", ID: s.ID, Reason: "duplicate source id"}
		}
		byID[s.ID] = s
	}

	seen := make(map[string]bool, len(cat.Profiles))
	for _, p := range cat.Profiles {
		if err := l.validate.Struct(p); err != nil {
			return nil, &ConfigError{Entity: "profile", ID: p.ID, Reason: err.Error()}
		}
		if seen[p.ID] {
			return nil, &ConfigError{Entity: "profile", ID: p.ID, Reason: "duplicate profile id"}
		}
		seen[p.ID] = true
		for _, sid := range p.SourceIDs {
			if _, ok := byID[sid]; !ok {
				return nil, &ConfigError{
					Entity: "profile",
					ID:     p.ID,
					Reason: fmt.Sprintf("references unknown source %q", sid),
				}
			}
		}
	}

	return byID, nil
}

// Sources returns all configured sources.
func (l *Loader) Sources() []models.Source {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Source, len(l.catalog.Sources))
	copy(out, l.catalog.Sources)
	return out
}

// EnabledSources returns only the enabled sources.
func (l *Loader) EnabledSources() []models.Source {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []models.Source
	for _, s := range l.catalog.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// SourceByID looks up a source definition.
func (l *Loader) SourceByID(id string) (models.Source, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.byID[id]
	return s, ok
}

// ActiveProfiles returns profiles that are enabled and reference at least one
// enabled source.
func (l *Loader) ActiveProfiles() []models.Profile {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []models.Profile
	for _, p := range l.catalog.Profiles {
		if !p.Enabled {
			continue
		}
		for _, sid := range p.SourceIDs {
			if s, ok := l.byID[sid]; ok && s.Enabled {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// ProfileByID looks up a profile definition.
func (l *Loader) ProfileByID(id string) (models.Profile, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, p := range l.catalog.Profiles {
		if p.ID == id {
			return p, true
		}
	}
	return models.Profile{}, false
}

// Watch reloads the catalog whenever the file changes on disk. It blocks until
// the watcher fails or stop is closed; run it in its own goroutine.
func (l *Loader) Watch(stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.path); err != nil {
		return fmt.Errorf("watch %s: %w", l.path, err)
	}

	for {
		select {
		case <-stop:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := l.Reload(); err != nil {
				// Keep serving the previous catalog.
				l.logger.Error("catalog reload failed", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Error("catalog watcher error", "error", err)
		}
	}
}
