package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/artgrid/artgrid/core"
)

// Handler executes one operation type against the state in ctx. The
// payload is the raw JSON payload of the operation; the handler decodes
// and validates it. Returning an error reverts every state change made
// during the operation.
type Handler func(ctx *Context, payload json.RawMessage) error

type handlerEntry struct {
	fn      Handler
	payable bool
}

var (
	registryMu sync.RWMutex
	registry   = make(map[core.OpType]handlerEntry)
)

// Register binds a handler to an operation type. Operations of this
// type must not carry an attached value. Called from module init().
func Register(typ core.OpType, fn Handler) {
	register(typ, fn, false)
}

// RegisterPayable binds a handler that accepts an attached value.
func RegisterPayable(typ core.OpType, fn Handler) {
	register(typ, fn, true)
}

func register(typ core.OpType, fn Handler, payable bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[typ]; exists {
		panic(fmt.Sprintf("engine: handler for %q registered twice", typ))
	}
	registry[typ] = handlerEntry{fn: fn, payable: payable}
}

func lookup(typ core.OpType) (handlerEntry, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	e, ok := registry[typ]
	return e, ok
}

// RegisteredTypes lists all bound operation types, sorted. Exposed for
// the RPC surface.
func RegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, string(t))
	}
	sort.Strings(types)
	return types
}
