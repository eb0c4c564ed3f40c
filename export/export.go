// Package export copies the records of a store into an embedded database,
// for moving a dataset off jfs once it outgrows a directory of JSON files.
package export

import (
	"encoding/json"
	"fmt"

	"github.com/stevemurr/jfs/logging"
	"github.com/stevemurr/jfs/store"
)

var logger = logging.For("export")

// Sink receives records as id and encoded JSON.
type Sink interface {
	Put(id string, data []byte) error
	Close() error
}

// Run writes every record of s to sink in id order and returns the number
// of records written. It does not close sink.
func Run(s store.Store, sink Sink) (int, error) {
	recs, err := store.Records[json.RawMessage](s)
	if err != nil {
		return 0, fmt.Errorf("reading records: %w", err)
	}
	for i, r := range recs {
		if err := sink.Put(r.ID, r.Value); err != nil {
			return i, fmt.Errorf("writing %q: %w", r.ID, err)
		}
	}
	logger.Info("exported records", "count", len(recs), "from", s.Path())
	return len(recs), nil
}
