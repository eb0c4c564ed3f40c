package store_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/stevemurr/jfs/store"
)

type X struct {
	X int `json:"x"`
}

type Y struct {
	Y int `json:"y"`
}

// XY requires both fields, the way a record type with mandatory fields
// rejects partial documents.
type XY struct {
	X *int `json:"x"`
	Y *int `json:"y"`
}

func (v XY) Validate() error {
	if v.X == nil || v.Y == nil {
		return errors.New("x and y are required")
	}
	return nil
}

type backendCase struct {
	name string
	open func(t *testing.T) store.Store
}

func backends() []backendCase {
	return []backendCase{
		{"memory", func(t *testing.T) store.Store {
			return mustOpen(t, store.InMemory, store.DefaultConfig())
		}},
		{"multi", func(t *testing.T) store.Store {
			return mustOpen(t, t.TempDir(), store.DefaultConfig())
		}},
		{"multi-pretty", func(t *testing.T) store.Store {
			return mustOpen(t, t.TempDir(), store.Config{Pretty: true, Indent: 4})
		}},
		{"single", func(t *testing.T) store.Store {
			return mustOpen(t, filepath.Join(t.TempDir(), "db.json"), store.Config{Indent: 2, Single: true})
		}},
		{"single-pretty", func(t *testing.T) store.Store {
			return mustOpen(t, filepath.Join(t.TempDir(), "db"), store.Config{Pretty: true, Indent: 2, Single: true})
		}},
	}
}

func mustOpen(t *testing.T, path string, cfg store.Config) store.Store {
	t.Helper()
	s, err := store.Open(path, cfg)
	if err != nil {
		t.Fatalf("Open(%q): %v", path, err)
	}
	return s
}

// runStoreTests runs the common contract suite against any Store.
func runStoreTests(t *testing.T, s store.Store) {
	t.Helper()

	t.Run("All empty", func(t *testing.T) {
		all, err := store.All[X](s)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 0 {
			t.Fatalf("expected 0 records, got %d", len(all))
		}
	})

	t.Run("SaveWithID and Get", func(t *testing.T) {
		id, err := s.SaveWithID(X{X: 42}, "k1")
		if err != nil {
			t.Fatal(err)
		}
		if id != "k1" {
			t.Fatalf("expected id k1, got %q", id)
		}
		got, err := store.Get[X](s, "k1")
		if err != nil {
			t.Fatal(err)
		}
		if got.X != 42 {
			t.Fatalf("expected x=42, got %d", got.X)
		}
	})

	t.Run("Save generates id", func(t *testing.T) {
		id, err := s.Save(Y{Y: -7})
		if err != nil {
			t.Fatal(err)
		}
		if id == "" {
			t.Fatal("expected generated id")
		}
		got, err := store.Get[Y](s, id)
		if err != nil {
			t.Fatal(err)
		}
		if got.Y != -7 {
			t.Fatalf("expected y=-7, got %d", got.Y)
		}
		if err := s.Delete(id); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("Get missing", func(t *testing.T) {
		_, err := store.Get[X](s, "missing")
		if !store.IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
		if store.KindOf(err) != store.KindNotFound {
			t.Fatalf("expected KindNotFound, got %v", store.KindOf(err))
		}
	})

	t.Run("Get wrong type", func(t *testing.T) {
		_, err := store.Get[[]string](s, "k1")
		if err == nil {
			t.Fatal("expected decode error")
		}
		if store.IsNotFound(err) {
			t.Fatalf("decode error must not be not found: %v", err)
		}
	})

	t.Run("SaveWithID overwrites", func(t *testing.T) {
		if _, err := s.SaveWithID(X{X: 7}, "k1"); err != nil {
			t.Fatal(err)
		}
		got, err := store.Get[X](s, "k1")
		if err != nil {
			t.Fatal(err)
		}
		if got.X != 7 {
			t.Fatalf("expected x=7, got %d", got.X)
		}
		all, err := store.All[X](s)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 1 {
			t.Fatalf("expected 1 record, got %d", len(all))
		}
	})

	t.Run("All returns all", func(t *testing.T) {
		if _, err := s.SaveWithID(X{X: 2}, "k2"); err != nil {
			t.Fatal(err)
		}
		all, err := store.All[X](s)
		if err != nil {
			t.Fatal(err)
		}
		want := map[string]X{"k1": {X: 7}, "k2": {X: 2}}
		if !reflect.DeepEqual(all, want) {
			t.Fatalf("got %v, want %v", all, want)
		}
	})

	t.Run("Records sorted", func(t *testing.T) {
		if _, err := s.SaveWithID(X{X: 0}, "a0"); err != nil {
			t.Fatal(err)
		}
		recs, err := store.Records[X](s)
		if err != nil {
			t.Fatal(err)
		}
		var ids []string
		for _, r := range recs {
			ids = append(ids, r.ID)
		}
		if !reflect.DeepEqual(ids, []string{"a0", "k1", "k2"}) {
			t.Fatalf("unexpected order %v", ids)
		}
		if err := s.Delete("a0"); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("Delete existing", func(t *testing.T) {
		if err := s.Delete("k1"); err != nil {
			t.Fatal(err)
		}
		if _, err := store.Get[X](s, "k1"); !store.IsNotFound(err) {
			t.Fatalf("expected not found after delete, got %v", err)
		}
		if err := s.Delete("k1"); !store.IsNotFound(err) {
			t.Fatalf("expected not found on second delete, got %v", err)
		}
	})

	t.Run("Delete missing", func(t *testing.T) {
		err := s.Delete("nope")
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("All skips other shapes", func(t *testing.T) {
		if _, err := s.SaveWithID(map[string]int{"x": 1, "y": 0}, "foo"); err != nil {
			t.Fatal(err)
		}
		if _, err := s.SaveWithID(map[string]int{"y": 2}, "bar"); err != nil {
			t.Fatal(err)
		}
		allXY, err := store.All[XY](s)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := allXY["bar"]; ok {
			t.Fatal("bar lacks x and must be skipped")
		}
		if v, ok := allXY["foo"]; !ok || *v.X != 1 {
			t.Fatalf("expected foo with x=1, got %v", allXY)
		}
		allY, err := store.All[Y](s)
		if err != nil {
			t.Fatal(err)
		}
		if allY["bar"].Y != 2 {
			t.Fatalf("expected bar with y=2, got %v", allY)
		}
		if _, err := store.Get[XY](s, "bar"); err == nil {
			t.Fatal("expected validation failure for bar")
		}
	})

	t.Run("null value with required fields", func(t *testing.T) {
		if _, err := s.SaveWithID(nil, "n"); err != nil {
			t.Fatal(err)
		}
		defer s.Delete("n")

		_, err := store.Get[*XY](s, "n")
		if err == nil {
			t.Fatal("expected validation failure for null")
		}
		if store.KindOf(err) != store.KindOther {
			t.Fatalf("expected KindOther, got %v", store.KindOf(err))
		}
		all, err := store.All[*XY](s)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := all["n"]; ok {
			t.Fatal("null record must be skipped")
		}
		if v, ok := all["foo"]; !ok || *v.X != 1 {
			t.Fatalf("expected foo with x=1, got %v", all)
		}
		// The entry is still usable afterwards.
		if _, err := s.SaveWithID(X{X: 9}, "n"); err != nil {
			t.Fatal(err)
		}
		if got, err := store.Get[X](s, "n"); err != nil || got.X != 9 {
			t.Fatalf("got %v, %v", got, err)
		}
	})
}

func TestStores(t *testing.T) {
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			runStoreTests(t, bc.open(t))
		})
	}
}

func TestConcurrentDistinctIDs(t *testing.T) {
	const n = 20
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			s := bc.open(t)
			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					if _, err := s.SaveWithID(X{X: i}, fmt.Sprintf("id-%02d", i)); err != nil {
						errs <- err
					}
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatal(err)
			}
			all, err := store.All[X](s)
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != n {
				t.Fatalf("expected %d records, got %d", n, len(all))
			}
			for i := 0; i < n; i++ {
				id := fmt.Sprintf("id-%02d", i)
				if all[id].X != i {
					t.Errorf("%s: got %d, want %d", id, all[id].X, i)
				}
			}
		})
	}
}

func TestConcurrentSameID(t *testing.T) {
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			s := bc.open(t)
			if _, err := s.SaveWithID(X{X: 56}, "bla"); err != nil {
				t.Fatal(err)
			}
			var wg sync.WaitGroup
			errs := make(chan error, 40)
			for i := 0; i < 20; i++ {
				wg.Add(2)
				go func(i int) {
					defer wg.Done()
					if _, err := s.SaveWithID(X{X: i}, "bla"); err != nil {
						errs <- err
					}
				}(i)
				go func() {
					defer wg.Done()
					if _, err := store.Get[X](s, "bla"); err != nil {
						errs <- err
					}
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatal(err)
			}
		})
	}
}

func TestBackendParity(t *testing.T) {
	type step struct {
		op    string
		id    string
		value X
	}
	steps := []step{
		{op: "save", id: "a", value: X{X: 1}},
		{op: "save", id: "b", value: X{X: 2}},
		{op: "get", id: "a"},
		{op: "save", id: "a", value: X{X: 3}},
		{op: "get", id: "a"},
		{op: "delete", id: "b"},
		{op: "get", id: "b"},
		{op: "delete", id: "b"},
		{op: "all"},
		{op: "delete", id: "a"},
		{op: "all"},
	}

	run := func(s store.Store) []string {
		var out []string
		for _, st := range steps {
			var res string
			switch st.op {
			case "save":
				id, err := s.SaveWithID(st.value, st.id)
				res = fmt.Sprintf("%s %v", id, store.KindOf(err))
				if err == nil {
					res = id
				}
			case "get":
				v, err := store.Get[X](s, st.id)
				res = fmt.Sprintf("%v %v", v, err != nil && store.IsNotFound(err))
			case "delete":
				err := s.Delete(st.id)
				res = fmt.Sprintf("%v", err != nil && store.IsNotFound(err))
			case "all":
				recs, err := store.Records[X](s)
				res = fmt.Sprintf("%v %v", recs, err)
			}
			out = append(out, st.op+":"+res)
		}
		return out
	}

	want := run(mustOpen(t, store.InMemory, store.DefaultConfig()))
	for _, bc := range backends()[1:] {
		t.Run(bc.name, func(t *testing.T) {
			got := run(bc.open(t))
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("results differ from memory backend:\n got  %v\n want %v", got, want)
			}
		})
	}
}

func TestHandlesShareStorage(t *testing.T) {
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			s := bc.open(t)
			clone := s
			if _, err := clone.SaveWithID(X{X: 5}, "shared"); err != nil {
				t.Fatal(err)
			}
			got, err := store.Get[X](s, "shared")
			if err != nil {
				t.Fatal(err)
			}
			if got.X != 5 {
				t.Fatalf("expected x=5, got %d", got.X)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		path     string
		cfg      store.Config
		memory   bool
		wantPath string
	}{
		{"memory", store.InMemory, store.DefaultConfig(), true, store.InMemory},
		{"dir", filepath.Join(dir, "multi"), store.DefaultConfig(), false, filepath.Join(dir, "multi")},
		{"single", filepath.Join(dir, "one.db"), store.Config{Single: true}, false, filepath.Join(dir, "one.json")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := mustOpen(t, tc.path, tc.cfg)
			if s.IsMemory() != tc.memory {
				t.Fatalf("IsMemory: got %v, want %v", s.IsMemory(), tc.memory)
			}
			if s.Path() != tc.wantPath {
				t.Fatalf("Path: got %q, want %q", s.Path(), tc.wantPath)
			}
		})
	}

	t.Run("New uses defaults", func(t *testing.T) {
		s, err := store.New(filepath.Join(dir, "defaults"))
		if err != nil {
			t.Fatal(err)
		}
		if s.IsMemory() {
			t.Fatal("expected file store")
		}
	})
}
