package bridge

// ---------------------------------------------------------------------------
// Variable store
//
// One store per logical session. Sequential execution contexts share it, so
// a value written by one script run is visible to the next. Access is
// single-writer by contract: script runs against one store never overlap
// (the server's worker enforces this), so no locking happens here.
// ---------------------------------------------------------------------------

// Store maps variable names to Values for the duration of a session.
// No schema is enforced: the same name may hold different kinds of values
// across calls.
type Store struct {
	vars map[string]Value
}

// NewStore creates an empty variable store.
func NewStore() *Store {
	return &Store{vars: make(map[string]Value)}
}

// NewSeededStore creates a store pre-seeded with the given host values,
// typically resolved session parameters. Seeding fails with *MarshalError
// if a value cannot be converted.
func NewSeededStore(seed map[string]any) (*Store, error) {
	s := NewStore()
	for name, native := range seed {
		v, err := ToValue(native)
		if err != nil {
			return nil, err
		}
		s.vars[name] = v
	}
	return s, nil
}

// Get returns the value bound to name, or *UndefinedVariable if absent.
func (s *Store) Get(name string) (Value, error) {
	v, ok := s.vars[name]
	if !ok {
		return Null, &UndefinedVariable{Name: name}
	}
	return v, nil
}

// GetOr returns the value bound to name, or def if absent. The default is
// not written back.
func (s *Store) GetOr(name string, def Value) Value {
	if v, ok := s.vars[name]; ok {
		return v
	}
	return def
}

// Set binds name to v, overwriting any previous binding. A single Set is
// the unit of atomicity: the store never holds a partially written value.
func (s *Store) Set(name string, v Value) {
	s.vars[name] = v
}

// Has reports whether name is bound.
func (s *Store) Has(name string) bool {
	_, ok := s.vars[name]
	return ok
}

// Names returns the bound names in lexical order.
func (s *Store) Names() []string {
	return sortedKeys(s.vars)
}

// Len returns the number of bound names.
func (s *Store) Len() int { return len(s.vars) }

// Snapshot returns a shallow copy of the current bindings. Mutating the
// returned map does not affect the store.
func (s *Store) Snapshot() map[string]Value {
	out := make(map[string]Value, len(s.vars))
	for k, v := range s.vars {
		out[k] = v
	}
	return out
}
