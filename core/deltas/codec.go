package deltas

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

//go:embed delta_log.schema.json
var deltaLogSchema []byte

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func logSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiledSchema, schemaErr = compiler.Compile(deltaLogSchema)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile delta log schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

type deltaJSON struct {
	Operations  []json.RawMessage `json:"operations"`
	TimestampMs int64             `json:"timestampMs"`
}

// MarshalJSON encodes a delta as
// {"operations":[{"insert":[0,"text"]},{"delete":[0,4]}],"timestampMs":0}.
func (d Delta) MarshalJSON() ([]byte, error) {
	out := deltaJSON{
		Operations:  make([]json.RawMessage, 0, len(d.Operations)),
		TimestampMs: d.TimestampMs,
	}
	for _, op := range d.Operations {
		raw, err := marshalOperation(op)
		if err != nil {
			return nil, err
		}
		out.Operations = append(out.Operations, raw)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (d *Delta) UnmarshalJSON(data []byte) error {
	var in deltaJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	ops := make([]Operation, 0, len(in.Operations))
	for i, raw := range in.Operations {
		op, err := unmarshalOperation(raw)
		if err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
		ops = append(ops, op)
	}

	d.Operations = ops
	d.TimestampMs = in.TimestampMs
	return nil
}

func marshalOperation(op Operation) (json.RawMessage, error) {
	switch o := op.(type) {
	case Insert:
		return json.Marshal(map[string][2]any{tagInsert: {o.Offset, o.Text}})
	case Delete:
		return json.Marshal(map[string][2]any{tagDelete: {o.Offset, o.Length}})
	default:
		return nil, fmt.Errorf("unsupported operation type %T", op)
	}
}

func unmarshalOperation(raw json.RawMessage) (Operation, error) {
	var tagged map[string][2]json.RawMessage
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return nil, err
	}
	if len(tagged) != 1 {
		return nil, errors.New("operation must have exactly one kind")
	}

	for kind, args := range tagged {
		var offset int
		if err := json.Unmarshal(args[0], &offset); err != nil {
			return nil, fmt.Errorf("%s offset: %w", kind, err)
		}

		switch kind {
		case tagInsert:
			var text string
			if err := json.Unmarshal(args[1], &text); err != nil {
				return nil, fmt.Errorf("insert text: %w", err)
			}
			return Insert{Offset: offset, Text: text}, nil
		case tagDelete:
			var length int
			if err := json.Unmarshal(args[1], &length); err != nil {
				return nil, fmt.Errorf("delete length: %w", err)
			}
			return Delete{Offset: offset, Length: length}, nil
		default:
			return nil, fmt.Errorf("unknown operation kind %q", kind)
		}
	}
	return nil, errors.New("empty operation")
}

// EncodeLog serializes an ordered delta log.
func EncodeLog(deltas []Delta) ([]byte, error) {
	if deltas == nil {
		deltas = []Delta{}
	}
	return json.Marshal(deltas)
}

// DecodeLog parses a serialized delta log. Any content that is not a valid
// log, including truncated or foreign files, fails with ErrCorruptLog.
func DecodeLog(data []byte) ([]Delta, error) {
	schema, err := logSchema()
	if err != nil {
		return nil, err
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrCorruptLog)
	}

	result := schema.ValidateJSON(data)
	if !result.IsValid() {
		return nil, fmt.Errorf("%w: schema validation failed: %v", ErrCorruptLog, result.Errors)
	}

	var deltas []Delta
	if err := json.Unmarshal(data, &deltas); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptLog, err)
	}
	return deltas, nil
}
