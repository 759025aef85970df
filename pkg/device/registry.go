package device

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory creates an empty model of one device type.
type Factory func(name string) Model

type registration struct {
	typ     string
	index   int
	factory Factory
}

var (
	registryMu sync.RWMutex
	registry   = map[string]registration{}
)

// Register adds a device type. index fixes the load order between types:
// lower indices load first.
func Register(typ string, index int, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	typ = strings.ToUpper(typ)
	if _, dup := registry[typ]; dup {
		panic(fmt.Sprintf("device: type %s registered twice", typ))
	}
	registry[typ] = registration{typ: typ, index: index, factory: factory}
}

func NewModel(typ, name string) (Model, error) {
	registryMu.RLock()
	reg, ok := registry[strings.ToUpper(typ)]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown device type %q", typ)
	}
	return reg.factory(name), nil
}

// TypeIndex returns the load-order index of a registered type.
func TypeIndex(typ string) (int, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[strings.ToUpper(typ)]
	return reg.index, ok
}

// Types lists the registered type tags in load order.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	regs := make([]registration, 0, len(registry))
	for _, r := range registry {
		regs = append(regs, r)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].index < regs[j].index })
	out := make([]string, len(regs))
	for i, r := range regs {
		out[i] = r.typ
	}
	return out
}
