package bridge

import (
	"errors"
	"testing"
)

func TestStoreGetSet(t *testing.T) {
	s := NewStore()

	_, err := s.Get("missing")
	var undefined *UndefinedVariable
	if !errors.As(err, &undefined) || undefined.Name != "missing" {
		t.Fatalf("want *UndefinedVariable for missing, got %v", err)
	}

	s.Set("x", IntVal(1))
	v, err := s.Get("x")
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := v.Int(); n != 1 {
		t.Errorf("x = %v", v)
	}

	// Rebinding to another kind is allowed.
	s.Set("x", StrVal("now a string"))
	v, _ = s.Get("x")
	if _, ok := v.Str(); !ok {
		t.Errorf("x after rebind = %v", v)
	}
}

func TestStoreGetOrDoesNotWriteBack(t *testing.T) {
	s := NewStore()
	def := IntVal(10)

	if v := s.GetOr("count", def); !Equal(v, def) {
		t.Errorf("GetOr = %v, want default", v)
	}
	if s.Has("count") {
		t.Error("GetOr must not bind the default")
	}

	// Defaulting twice yields the same answer.
	if v := s.GetOr("count", def); !Equal(v, def) {
		t.Errorf("second GetOr = %v", v)
	}

	s.Set("count", IntVal(3))
	if v := s.GetOr("count", def); !Equal(v, IntVal(3)) {
		t.Errorf("GetOr after Set = %v", v)
	}
}

func TestSeededStore(t *testing.T) {
	s, err := NewSeededStore(map[string]any{
		"file":  "sun.fits",
		"gamma": 1.2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d", s.Len())
	}
	v, _ := s.Get("gamma")
	if f, _ := v.Num(); f != 1.2 {
		t.Errorf("gamma = %v", v)
	}

	_, err = NewSeededStore(map[string]any{"bad": make(chan int)})
	var merr *MarshalError
	if !errors.As(err, &merr) {
		t.Fatalf("want *MarshalError, got %v", err)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	s.Set("a", IntVal(1))

	snap := s.Snapshot()
	snap["a"] = IntVal(99)
	snap["b"] = IntVal(2)

	if v, _ := s.Get("a"); !Equal(v, IntVal(1)) {
		t.Error("mutating the snapshot leaked into the store")
	}
	if s.Has("b") {
		t.Error("snapshot insertion leaked into the store")
	}
}

// A value written by one run is visible to the next run sharing the store.
func TestStoreSurvivesSequentialRuns(t *testing.T) {
	s := NewStore()

	increment := func() {
		v := s.GetOr("counter", IntVal(0))
		n, _ := v.Int()
		s.Set("counter", IntVal(n+1))
	}

	increment()
	increment()

	v, err := s.Get("counter")
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := v.Int(); n != 2 {
		t.Errorf("counter = %d, want 2", n)
	}
}
