package broker

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
)

// Codec converts message bodies to and from Go values.
type Codec interface {
	Name() string
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// JSON is the default codec.
var JSON Codec = jsonCodec{}

// Gob encodes values with encoding/gob. Concrete types carried in interface
// fields must be registered with gob.Register.
var Gob Codec = gobCodec{}

// Raw passes bodies through unchanged. It decodes into *[]byte or *string
// and encodes []byte or string.
var Raw Codec = rawCodec{}

// CodecByName returns the codec registered under name ("json", "gob", "raw").
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "gob":
		return Gob, nil
	case "raw":
		return Raw, nil
	}
	return nil, fmt.Errorf("broker: unknown codec %q", name)
}

type jsonCodec struct{}

func (jsonCodec) Name() string                    { return "json" }
func (jsonCodec) Encode(v any) ([]byte, error)    { return json.Marshal(v) }
func (jsonCodec) Decode(data []byte, v any) error { return json.Unmarshal(data, v) }

type gobCodec struct{}

func (gobCodec) Name() string { return "gob" }

func (gobCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Decode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

type rawCodec struct{}

func (rawCodec) Name() string { return "raw" }

func (rawCodec) Encode(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	}
	return nil, fmt.Errorf("broker: raw codec cannot encode %T", v)
}

func (rawCodec) Decode(data []byte, v any) error {
	switch p := v.(type) {
	case *[]byte:
		*p = append((*p)[:0], data...)
		return nil
	case *string:
		*p = string(data)
		return nil
	}
	return fmt.Errorf("broker: raw codec cannot decode into %T", v)
}
