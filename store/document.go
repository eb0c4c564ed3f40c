package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"maps"
	"reflect"
	"strings"
)

var (
	errMalformed = errors.New("malformed JSON")
	errNullValue = errors.New("null value")
)

// Document is a JSON object whose values are kept in encoded form. In
// single-file mode the whole store is one Document keyed by record id.
type Document map[string]json.RawMessage

// Clone returns a shallow copy of d. Values are immutable byte slices, so
// sharing them is safe.
func (d Document) Clone() Document {
	if d == nil {
		return Document{}
	}
	return maps.Clone(d)
}

// Validator is implemented by record types that reject structurally valid
// JSON, e.g. to require fields that encoding/json would leave zero.
// Get and All call Validate after decoding; a failure counts as a decode
// error.
type Validator interface {
	Validate() error
}

// encoder turns values into the bytes written to disk or held in memory.
type encoder struct {
	pretty bool
	indent string
}

func newEncoder(pretty bool, indent int) encoder {
	if indent < 0 {
		indent = 0
	}
	return encoder{pretty: pretty, indent: strings.Repeat(" ", indent)}
}

// encode serializes v compactly, or indented with e.indent per level when
// pretty is set. HTML characters are written as-is.
func (e encoder) encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	compact := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	if !e.pretty {
		return compact, nil
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", e.indent); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// parseDocument parses data as a JSON object. Malformed JSON is KindOther;
// well-formed JSON that is not an object is KindInvalidData.
func parseDocument(op, id string, data []byte) (Document, error) {
	if !json.Valid(data) {
		return nil, other(op, id, errMalformed)
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, invalidData(op, id, nil)
	}
	var doc Document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, other(op, id, err)
	}
	return doc, nil
}

// decodeInto unmarshals data into v and runs Validate when v supports it.
// A JSON null decoded into a nil pointer fails validation for types that
// have a Validate method.
func decodeInto[T any](data []byte, v *T) error {
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	if val, ok := any(v).(Validator); ok {
		return val.Validate()
	}
	if val, ok := any(*v).(Validator); ok {
		if rv := reflect.ValueOf(val); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return errNullValue
		}
		return val.Validate()
	}
	return nil
}
