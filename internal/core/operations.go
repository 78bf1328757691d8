package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Operation is one named asynchronous backend capability.
type Operation func(ctx context.Context, args []any) (any, error)

// Operations maps operation names to handlers. Names that are not registered
// cannot be called.
type Operations struct {
	mu  sync.RWMutex
	ops map[string]Operation
}

func NewOperations() *Operations {
	return &Operations{ops: make(map[string]Operation)}
}

// Register adds or replaces op under name and returns o for chaining.
func (o *Operations) Register(name string, op Operation) *Operations {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops[name] = op
	return o
}

func (o *Operations) Lookup(name string) (Operation, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	op, ok := o.ops[name]
	return op, ok
}

func (o *Operations) Names() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.ops))
	for name := range o.ops {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Invoke calls the operation registered under name with args in order.
func (o *Operations) Invoke(ctx context.Context, name string, args []any) (any, error) {
	op, ok := o.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, name)
	}
	if args == nil {
		args = []any{}
	}
	return op(ctx, args)
}
