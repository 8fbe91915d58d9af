// Package sim is an in-memory stand-in for the facility control system and
// DAQ. It backs development mode and the tests.
package sim

import (
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/mfxhutch/pumpprobe/internal/debug"
)

// Store holds named process variables. Subscribers are notified after every
// successful Put, from the goroutine that performed the write.
type Store struct {
	values   *xsync.MapOf[string, any]
	failures *xsync.MapOf[string, error]

	subMu  sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]func(any)
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		values:   xsync.NewMapOf[string, any](),
		failures: xsync.NewMapOf[string, error](),
		subs:     make(map[string]map[uint64]func(any)),
	}
}

// Put writes a value. It fails if a failure was injected for name.
func (s *Store) Put(name string, v any) error {
	if err, ok := s.failures.Load(name); ok {
		debug.PV("put-failed", name, v)
		return fmt.Errorf("put %s: %w", name, err)
	}
	debug.PV("put", name, v)
	s.values.Store(name, v)

	s.subMu.Lock()
	fns := make([]func(any), 0, len(s.subs[name]))
	for _, fn := range s.subs[name] {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
	return nil
}

// Get reads a value.
func (s *Store) Get(name string) (any, error) {
	if err, ok := s.failures.Load(name); ok {
		return nil, fmt.Errorf("get %s: %w", name, err)
	}
	v, ok := s.values.Load(name)
	if !ok {
		return nil, fmt.Errorf("get %s: no value", name)
	}
	return v, nil
}

// Float reads a float64 value.
func (s *Store) Float(name string) (float64, error) {
	v, err := s.Get(name)
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("get %s: %T is not numeric", name, v)
	}
}

// Int reads an int value.
func (s *Store) Int(name string) (int, error) {
	v, err := s.Get(name)
	if err != nil {
		return 0, err
	}
	x, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("get %s: %T is not an int", name, v)
	}
	return x, nil
}

// String reads a string value.
func (s *Store) String(name string) (string, error) {
	v, err := s.Get(name)
	if err != nil {
		return "", err
	}
	x, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("get %s: %T is not a string", name, v)
	}
	return x, nil
}

// Subscribe registers fn for changes of name. The returned func removes it.
func (s *Store) Subscribe(name string, fn func(any)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextID++
	id := s.nextID
	if s.subs[name] == nil {
		s.subs[name] = make(map[uint64]func(any))
	}
	s.subs[name][id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs[name], id)
	}
}

// Fail makes every Put and Get of name fail with err until Heal is called.
func (s *Store) Fail(name string, err error) {
	s.failures.Store(name, err)
}

// Heal removes an injected failure.
func (s *Store) Heal(name string) {
	s.failures.Delete(name)
}

// Names returns every process variable that has a value.
func (s *Store) Names() []string {
	var names []string
	s.values.Range(func(k string, _ any) bool {
		names = append(names, k)
		return true
	})
	return names
}
