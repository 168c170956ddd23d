package nn

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Config is what a backend factory gets to work with. Weights is the
// decoded network file; its format descriptor tells the backend which head
// outputs to expose. Backend-specific settings travel through Options so
// nothing leaks into the search core.
type Config struct {
	WeightsPath  string
	Weights      *WeightsFile
	MaxBatchSize int
	Options      map[string]string
	Logger       zerolog.Logger
}

type Factory func(cfg Config) (Network, error)

type backendEntry struct {
	name     string
	priority int
	factory  Factory
}

var (
	backendsMu sync.Mutex
	backends   []backendEntry
)

// RegisterBackend is called from backend init functions. Higher priority
// wins when the backend is chosen automatically.
func RegisterBackend(name string, priority int, factory Factory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends = append(backends, backendEntry{name: name, priority: priority, factory: factory})
}

func BackendNames() []string {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	var names = make([]string, 0, len(backends))
	for _, e := range sortedBackends() {
		names = append(names, e.name)
	}
	return names
}

func sortedBackends() []backendEntry {
	var entries = append([]backendEntry(nil), backends...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority > entries[j].priority
	})
	return entries
}

// CreateBackend builds the named backend, or the highest-priority one that
// initializes successfully when name is empty.
func CreateBackend(name string, cfg Config) (Network, error) {
	backendsMu.Lock()
	var entries = sortedBackends()
	backendsMu.Unlock()

	if name != "" {
		for _, e := range entries {
			if e.name == name {
				return e.factory(cfg)
			}
		}
		return nil, errors.Errorf("nn: unknown backend %q", name)
	}
	var lastErr error
	for _, e := range entries {
		var network, err = e.factory(cfg)
		if err == nil {
			cfg.Logger.Info().Str("backend", e.name).Msg("backend selected")
			return network, nil
		}
		cfg.Logger.Warn().Str("backend", e.name).Err(err).Msg("backend unavailable")
		lastErr = err
	}
	return nil, errors.Wrap(lastErr, "nn: no backend available")
}
