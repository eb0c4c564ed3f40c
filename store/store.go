// Package store persists JSON documents addressed by string ids, either as
// files on disk or in process memory.
//
//	s, err := store.New("data")
//	id, err := s.Save(Foo{Foo: "bar"})
//	foo, err := store.Get[Foo](s, id)
//	err = s.Delete(id)
//
// Set Config.Single to keep every record in one JSON file, and
// Config.Pretty with Config.Indent to indent file content.
package store

import (
	"cmp"
	"slices"

	"github.com/google/uuid"

	"github.com/stevemurr/jfs/logging"
)

var logger = logging.For("store")

// backend is implemented by *FileStore and *MemoryStore only. Values cross
// the interface as encoded JSON; decoding into the caller's type happens in
// the callbacks so the memory backend can run it under the entry lock.
type backend interface {
	save(id string, v any) error
	load(id string, decode func(data []byte) error) error
	// scan calls fn for every record. Records for which fn fails are
	// skipped; only failures to enumerate are returned.
	scan(fn func(id string, data []byte) error) error
	remove(id string) error
}

var (
	_ backend = (*FileStore)(nil)
	_ backend = (*MemoryStore)(nil)
)

// Store is a handle to a file or memory backend. Copies of a Store share
// the same underlying storage. The zero Store is not usable; obtain one
// from Open or New.
type Store struct {
	b    backend
	path string
}

// Save stores v under a freshly generated id and returns the id.
func (s Store) Save(v any) (string, error) {
	return s.SaveWithID(v, uuid.NewString())
}

// SaveWithID stores v under id, replacing any existing record, and
// returns id.
func (s Store) SaveWithID(v any, id string) (string, error) {
	if err := s.b.save(id, v); err != nil {
		return "", err
	}
	return id, nil
}

// Delete removes the record for id. It returns a KindNotFound error if
// there is none.
func (s Store) Delete(id string) error {
	return s.b.remove(id)
}

// Path returns the storage location, or InMemory for a memory store.
func (s Store) Path() string {
	return s.path
}

// IsMemory reports whether s is backed by process memory.
func (s Store) IsMemory() bool {
	_, ok := s.b.(*MemoryStore)
	return ok
}

// Get decodes the record stored under id into a T.
func Get[T any](s Store, id string) (T, error) {
	var v T
	err := s.b.load(id, func(data []byte) error {
		return decodeInto(data, &v)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// All returns every record that decodes into a T. Records of another
// shape are left out.
func All[T any](s Store) (map[string]T, error) {
	out := make(map[string]T)
	err := s.b.scan(func(id string, data []byte) error {
		var v T
		if err := decodeInto(data, &v); err != nil {
			return err
		}
		out[id] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Record is an id and its decoded value.
type Record[T any] struct {
	ID    string
	Value T
}

// Records is All with the result sorted by id.
func Records[T any](s Store) ([]Record[T], error) {
	all, err := All[T](s)
	if err != nil {
		return nil, err
	}
	out := make([]Record[T], 0, len(all))
	for id, v := range all {
		out = append(out, Record[T]{ID: id, Value: v})
	}
	slices.SortFunc(out, func(a, b Record[T]) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}
