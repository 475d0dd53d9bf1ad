package report

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Message is the JSON object sent on the channel.
type Message struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Detail    string `json:"detail,omitempty"`
}

//go:embed event.schema.json
var schemaJSON []byte

const schemaURL = "event.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Schema returns the embedded event JSON schema.
func Schema() []byte {
	return append([]byte(nil), schemaJSON...)
}

// Validate checks an encoded message against the event schema.
func Validate(data []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}
	if err := s.Validate(instance); err != nil {
		return fmt.Errorf("event schema: %w", err)
	}
	return nil
}

// ToMessage converts e to its wire form. Timestamps are epoch milliseconds.
func ToMessage(e Event) Message {
	return Message{
		Type:      e.Type(),
		Timestamp: e.Time().UnixMilli(),
		Detail:    Detail(e),
	}
}

// Encode serializes e and validates the result.
func Encode(e Event) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("encode event: nil event")
	}
	data, err := json.Marshal(ToMessage(e))
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	if err := Validate(data); err != nil {
		return nil, err
	}
	return data, nil
}

// Decode parses and validates a wire message. The keyword of an overlay
// event is not carried on the wire and is left empty.
func Decode(data []byte) (Event, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	ts := time.UnixMilli(m.Timestamp)
	switch m.Type {
	case TypeOverlay:
		return OverlayDetected{Timestamp: ts, MatchedText: m.Detail}, nil
	case TypeGazeOffscreen:
		return GazeOffscreen{Timestamp: ts}, nil
	default:
		return nil, fmt.Errorf("decode event: unknown type %q", m.Type)
	}
}
