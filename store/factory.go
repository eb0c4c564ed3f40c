package store

// InMemory is the path that selects the memory backend.
const InMemory = "::memory::"

// Config controls how a file-backed store lays out and formats its files.
// It is ignored by the memory backend.
type Config struct {
	// Pretty indents file content by Indent spaces per level.
	Pretty bool
	Indent int
	// Single keeps all records in one JSON file instead of one file per id.
	Single bool
}

// DefaultConfig returns compact multi-file output with a 2-space indent
// for when Pretty is turned on.
func DefaultConfig() Config {
	return Config{Indent: 2}
}

// Open creates a Store for path.
//
//	InMemory     - in-memory (ephemeral)
//	anything else - file store rooted at path, per cfg
func Open(path string, cfg Config) (Store, error) {
	if path == InMemory {
		return Store{b: NewMemoryStore(), path: InMemory}, nil
	}
	fs, err := NewFileStore(path, cfg)
	if err != nil {
		return Store{}, err
	}
	return Store{b: fs, path: fs.Path()}, nil
}

// New is Open with DefaultConfig.
func New(path string) (Store, error) {
	return Open(path, DefaultConfig())
}
