package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/cryguy/taskworker/internal/core"
)

// Table is a worker's method table. Batch methods are served by Handler,
// stream methods by StreamingHandler.
type Table struct {
	mu      sync.RWMutex
	methods map[string]core.Method
	streams map[string]StreamMethod
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		methods: make(map[string]core.Method),
		streams: make(map[string]StreamMethod),
	}
}

// Handle registers a raw method under name.
func (t *Table) Handle(name string, m core.Method) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.methods[name] = m
}

// HandleStream registers a streaming method under name.
func (t *Table) HandleStream(name string, m StreamMethod) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streams[name] = m
}

// Register binds an ordinary Go function as a method. See Bind.
func (t *Table) Register(name string, fn any) error {
	m, err := Bind(fn)
	if err != nil {
		return fmt.Errorf("registering %s: %w", name, err)
	}
	t.Handle(name, m)
	return nil
}

// MustRegister is Register that panics on a malformed function.
func (t *Table) MustRegister(name string, fn any) {
	if err := t.Register(name, fn); err != nil {
		panic(err)
	}
}

// Lookup implements core.MethodTable.
func (t *Table) Lookup(name string) (core.Method, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.methods[name]
	return m, ok
}

// Names implements core.MethodTable. Names are sorted.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedKeys(t.methods)
}

// LookupStream implements StreamTable.
func (t *Table) LookupStream(name string) (StreamMethod, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.streams[name]
	return m, ok
}

// StreamNames implements StreamTable.
func (t *Table) StreamNames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedKeys(t.streams)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Bind adapts fn to a core.Method. fn may take a context.Context first,
// then any number of JSON-decodable parameters (the last may be variadic),
// and return nothing, a value, an error, or a value and an error.
//
// Arguments missing from a call decode to zero values; surplus arguments
// are ignored unless fn is variadic.
func Bind(fn any) (core.Method, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("method must be a non-nil func, got %T", fn)
	}
	typ := v.Type()

	withCtx := typ.NumIn() > 0 && typ.In(0) == contextType
	first := 0
	if withCtx {
		first = 1
	}

	switch typ.NumOut() {
	case 0, 1:
	case 2:
		if typ.Out(1) != errorType {
			return nil, fmt.Errorf("second result of %s must be error", typ)
		}
	default:
		return nil, fmt.Errorf("%s returns too many results", typ)
	}

	return func(ctx context.Context, args []json.RawMessage) (any, error) {
		in := make([]reflect.Value, 0, typ.NumIn())
		if withCtx {
			in = append(in, reflect.ValueOf(ctx))
		}
		fixed := typ.NumIn()
		if typ.IsVariadic() {
			fixed--
		}
		for i := first; i < fixed; i++ {
			arg, err := decodeArg(args, i-first, typ.In(i))
			if err != nil {
				return nil, err
			}
			in = append(in, arg)
		}
		if typ.IsVariadic() {
			elem := typ.In(fixed).Elem()
			for i := fixed - first; i < len(args); i++ {
				arg, err := decodeArg(args, i, elem)
				if err != nil {
					return nil, err
				}
				in = append(in, arg)
			}
		}
		return splitResults(typ, v.Call(in))
	}, nil
}

func decodeArg(args []json.RawMessage, i int, typ reflect.Type) (reflect.Value, error) {
	ptr := reflect.New(typ)
	if i < len(args) && len(args[i]) > 0 {
		if err := json.Unmarshal(args[i], ptr.Interface()); err != nil {
			return reflect.Value{}, core.NewRemoteError("TypeError", "argument %d: %v", i, err)
		}
	}
	return ptr.Elem(), nil
}

func splitResults(typ reflect.Type, out []reflect.Value) (any, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if typ.Out(0) == errorType {
			return nil, asError(out[0])
		}
		return out[0].Interface(), nil
	default:
		return out[0].Interface(), asError(out[1])
	}
}

func asError(v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	return v.Interface().(error)
}
