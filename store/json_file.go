package store

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileStore keeps records as JSON files on disk.
//
// Layout, multi-file mode:
//
//	root/
//	  <id>.json   # one record per file
//
// Layout, single-file mode:
//
//	root.json     # {"<id>": <record>, ...}
//
// Every mutation writes a complete replacement to a temporary file in the
// same directory and renames it over the target while holding an exclusive
// advisory lock on the target. Readers take a shared lock. Several
// FileStores, goroutines and processes may share one root.
type FileStore struct {
	path string
	cfg  Config
	enc  encoder
}

// NewFileStore opens a file-backed store at path. In single-file mode the
// extension of path is replaced by ".json" and the file is initialized to
// {} if it does not exist yet. Otherwise path is created as a directory.
func NewFileStore(path string, cfg Config) (*FileStore, error) {
	s := &FileStore{path: path, cfg: cfg, enc: newEncoder(cfg.Pretty, cfg.Indent)}
	if cfg.Single {
		s.path = withJSONExt(path)
		if err := s.initAggregate(); err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(s.path, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return nil, other("open", "", err)
	}
	logger.Debug("opened file store", "path", s.path, "single", cfg.Single, "pretty", cfg.Pretty)
	return s, nil
}

// Path returns the storage location: the JSON file in single-file mode,
// otherwise the directory holding one file per record.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) idToPath(id string) string {
	if s.cfg.Single {
		return s.path
	}
	return filepath.Join(s.path, id+".json")
}

func (s *FileStore) save(id string, v any) error {
	if s.cfg.Single {
		raw, err := encoder{}.encode(v)
		if err != nil {
			return invalidData("save", id, err)
		}
		return s.update("save", id, func(doc Document) error {
			doc[id] = raw
			return nil
		})
	}

	data, err := s.enc.encode(v)
	if err != nil {
		return invalidData("save", id, err)
	}
	path := s.idToPath(id)
	f, err := openLocked(path)
	if err != nil {
		return other("save", id, err)
	}
	defer release(f)
	if err := commit(path, data); err != nil {
		// Drop the placeholder created by openLocked so the id does not
		// linger as an empty file.
		if fi, statErr := f.Stat(); statErr == nil && fi.Size() == 0 {
			os.Remove(path)
		}
		return other("save", id, err)
	}
	return nil
}

func (s *FileStore) load(id string, decode func([]byte) error) error {
	if s.cfg.Single {
		doc, err := s.readAggregate("get", id)
		if err != nil {
			return err
		}
		raw, ok := doc[id]
		if !ok {
			return notFound("get", id)
		}
		if err := decode(raw); err != nil {
			return other("get", id, err)
		}
		return nil
	}

	data, err := readLocked(s.idToPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return notFound("get", id)
	}
	if err != nil {
		return other("get", id, err)
	}
	// A zero-length file is a record whose first write has not been
	// renamed into place yet.
	if len(data) == 0 {
		return notFound("get", id)
	}
	if !json.Valid(data) {
		return other("get", id, errMalformed)
	}
	if err := decode(data); err != nil {
		return other("get", id, err)
	}
	return nil
}

func (s *FileStore) scan(fn func(id string, data []byte) error) error {
	if s.cfg.Single {
		doc, err := s.readAggregate("all", "")
		if err != nil {
			return err
		}
		for id, raw := range doc {
			if err := fn(id, raw); err != nil {
				logger.Debug("skipping record", "id", id, "err", err)
			}
		}
		return nil
	}

	fi, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return notFound("all", "")
	}
	if err != nil {
		return other("all", "", err)
	}
	if !fi.IsDir() {
		return &Error{Kind: KindNotFound, Op: "all", Err: errors.New("invalid path")}
	}
	entries, err := os.ReadDir(s.path)
	if err != nil {
		return other("all", "", err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		id := stem(e.Name())
		err := s.load(id, func(data []byte) error { return fn(id, data) })
		if err != nil {
			logger.Debug("skipping record", "id", id, "err", err)
		}
	}
	return nil
}

func (s *FileStore) remove(id string) error {
	if s.cfg.Single {
		return s.update("delete", id, func(doc Document) error {
			if _, ok := doc[id]; !ok {
				return notFound("delete", id)
			}
			delete(doc, id)
			return nil
		})
	}

	err := os.Remove(s.idToPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return notFound("delete", id)
	}
	if err != nil {
		return other("delete", id, err)
	}
	return nil
}

// update applies fn to a copy of the aggregate document and writes the
// result back. The exclusive lock is held from the read to the rename, so
// concurrent updates of different ids are not lost.
func (s *FileStore) update(op, id string, fn func(Document) error) error {
	f, err := openLocked(s.path)
	if err != nil {
		return other(op, id, err)
	}
	defer release(f)

	data, err := io.ReadAll(f)
	if err != nil {
		return other(op, id, err)
	}
	doc, err := s.parseAggregate(op, id, data)
	if err != nil {
		return err
	}
	next := doc.Clone()
	if err := fn(next); err != nil {
		return err
	}
	out, err := s.enc.encode(next)
	if err != nil {
		return invalidData(op, id, err)
	}
	if err := commit(s.path, out); err != nil {
		return other(op, id, err)
	}
	return nil
}

func (s *FileStore) initAggregate() error {
	f, err := openLocked(s.path)
	if err != nil {
		return other("open", "", err)
	}
	defer release(f)

	fi, err := f.Stat()
	if err != nil {
		return other("open", "", err)
	}
	if fi.Size() > 0 {
		return nil
	}
	out, err := s.enc.encode(Document{})
	if err != nil {
		return invalidData("open", "", err)
	}
	if err := commit(s.path, out); err != nil {
		return other("open", "", err)
	}
	logger.Debug("initialized aggregate file", "path", s.path)
	return nil
}

func (s *FileStore) readAggregate(op, id string) (Document, error) {
	data, err := readLocked(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &Error{Kind: KindNotFound, Op: op, ID: id, Err: err}
	}
	if err != nil {
		return nil, other(op, id, err)
	}
	return s.parseAggregate(op, id, data)
}

// parseAggregate treats a zero-length file as {}: it only occurs while a
// concurrent opener is initializing the file.
func (s *FileStore) parseAggregate(op, id string, data []byte) (Document, error) {
	if len(data) == 0 {
		return Document{}, nil
	}
	return parseDocument(op, id, data)
}

// openLocked opens (creating if needed) path for writing and takes an
// exclusive lock on it. If the file was replaced by a rename while waiting
// for the lock, the stale handle is dropped and the lock is retaken on the
// current file.
func openLocked(path string) (*os.File, error) {
	for {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, err
		}
		if err := lockFile(f, true); err != nil {
			f.Close()
			return nil, err
		}
		current, err := isCurrent(f, path)
		if err == nil && current {
			return f, nil
		}
		release(f)
		if err != nil {
			return nil, err
		}
	}
}

func isCurrent(f *os.File, path string) (bool, error) {
	held, err := f.Stat()
	if err != nil {
		return false, err
	}
	onDisk, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return os.SameFile(held, onDisk), nil
}

func release(f *os.File) {
	unlockFile(f)
	f.Close()
}

// commit writes data to a fresh <uuid>.tmp file next to path and renames
// it over path. On failure the temporary file is removed and path is left
// untouched.
func commit(path string, data []byte) error {
	tmpPath := filepath.Join(filepath.Dir(path), uuid.NewString()+".tmp")
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := lockFile(tmp, true); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		release(tmp)
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		release(tmp)
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		release(tmp)
		os.Remove(tmpPath)
		return err
	}
	release(tmp)
	return nil
}

func readLocked(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := lockFile(f, false); err != nil {
		return nil, err
	}
	defer unlockFile(f)
	return io.ReadAll(f)
}

// stem strips the last extension from a file name. A leading dot does not
// start an extension.
func stem(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i]
	}
	return name
}

func withJSONExt(path string) string {
	path = filepath.Clean(path)
	return filepath.Join(filepath.Dir(path), stem(filepath.Base(path))+".json")
}
