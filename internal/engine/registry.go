package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Settings are the engine-facing values of the process configuration.
type Settings struct {
	Model string

	AnthropicAPIKey string
	AnthropicModel  string
	AnthropicURL    string

	GeminiAPIKey string
	GeminiModel  string

	TesseractLanguages []string
}

// Factory builds an engine from settings.
type Factory func(Settings) (Engine, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes an engine available by name. It panics on duplicates,
// which can only happen through a programming error at init time.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	name = strings.ToLower(name)
	if _, dup := registry[name]; dup {
		panic("engine: duplicate registration of " + name)
	}
	registry[name] = f
}

// New builds the named engine.
func New(name string, s Settings) (Engine, error) {
	registryMu.RLock()
	f, ok := registry[strings.ToLower(name)]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown engine %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return f(s)
}

// Names lists registered engines in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
