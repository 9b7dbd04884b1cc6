package source

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/JonMunkholm/telemetry-recorder/internal/config"
	"github.com/JonMunkholm/telemetry-recorder/internal/core"
)

// Deps carries runtime capabilities that cannot come from configuration.
type Deps struct {
	// Session is the attached live automation session, if any.
	Session Session

	// OpenPort opens the serial gateway. Nil uses the system serial ports.
	OpenPort PortOpener

	// HTTPClient overrides the REST client. Nil builds one with the
	// configured timeout.
	HTTPClient *http.Client
}

// Definition describes one source kind.
type Definition struct {
	Kind  string
	Label string
	New   func(cfg *config.Config, deps Deps) (core.Source, error)
}

var (
	registry   = make(map[string]Definition)
	registryMu sync.RWMutex
)

// Register adds a source definition to the registry.
// Panics if a source with the same kind is already registered.
func Register(def Definition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[def.Kind]; exists {
		panic(fmt.Sprintf("source already registered: %s", def.Kind))
	}
	registry[def.Kind] = def
}

// Get returns a source definition by kind.
// Returns false if not found.
func Get(kind string) (Definition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[strings.ToLower(kind)]
	return def, ok
}

// All returns all registered definitions sorted by kind.
func All() []Definition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]Definition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Kind < result[j].Kind })
	return result
}

// New builds the source of the given kind after checking its required
// settings. Errors wrap core.ErrConfig.
func New(cfg *config.Config, kind string, deps Deps) (core.Source, error) {
	def, ok := Get(kind)
	if !ok {
		return nil, fmt.Errorf("%w: unknown source kind %q", core.ErrConfig, kind)
	}
	if err := cfg.RequireSource(def.Kind); err != nil {
		return nil, err
	}
	return def.New(cfg, deps)
}
