package keyval

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/proto"
)

// recordVersion is the first byte of every stored value. It keeps stored
// values non-empty, so an absent key is never confused with an empty
// payload.
const recordVersion byte = 1

var (
	// ErrCorruptValue is returned when a stored value does not carry a
	// known record header.
	ErrCorruptValue = errors.New("keyval: corrupt stored value")

	// ErrUnsupportedValue is returned when a codec cannot handle the Go
	// type it was given.
	ErrUnsupportedValue = errors.New("keyval: unsupported value type")
)

// Codec turns values into bytes and back. Unmarshal receives a pointer.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, dst any) error
}

// CodecByName returns the codec registered under name: gob, json or proto.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "gob":
		return GobCodec(), nil
	case "json":
		return JSONCodec(), nil
	case "proto":
		return ProtoCodec(), nil
	}
	return nil, fmt.Errorf("keyval: unknown codec %q", name)
}

// GobCodec encodes values with encoding/gob. Concrete types stored behind
// interfaces must be registered with gob.Register.
func GobCodec() Codec { return gobCodec{} }

// JSONCodec encodes values with encoding/json.
func JSONCodec() Codec { return jsonCodec{} }

// ProtoCodec encodes proto.Message values in deterministic wire format.
// Get accepts either a message or a pointer to a message pointer.
func ProtoCodec() Codec { return protoCodec{} }

type gobCodec struct{}

func (gobCodec) Name() string { return "gob" }

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, dst any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(dst)
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, dst any) error { return json.Unmarshal(data, dst) }

type protoCodec struct{}

func (protoCodec) Name() string { return "proto" }

func (protoCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a proto.Message", ErrUnsupportedValue, v)
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(m)
}

var messageType = reflect.TypeOf((*proto.Message)(nil)).Elem()

func (protoCodec) Unmarshal(data []byte, dst any) error {
	if m, ok := dst.(proto.Message); ok {
		return proto.Unmarshal(data, m)
	}
	// **M: allocate the message and store it through the pointer.
	rv := reflect.ValueOf(dst)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		elem := rv.Elem()
		if elem.Kind() == reflect.Pointer && elem.Type().Implements(messageType) {
			m := reflect.New(elem.Type().Elem())
			if err := proto.Unmarshal(data, m.Interface().(proto.Message)); err != nil {
				return err
			}
			elem.Set(m)
			return nil
		}
	}
	return fmt.Errorf("%w: cannot decode into %T", ErrUnsupportedValue, dst)
}

func encodeRecord(c Codec, v any) ([]byte, error) {
	payload, err := c.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("keyval: encoding value with %s: %w", c.Name(), err)
	}
	out := make([]byte, 0, len(payload)+1)
	out = append(out, recordVersion)
	return append(out, payload...), nil
}

// decodeRecord checks the header and decodes the payload into dst. A nil
// dst only checks the header.
func decodeRecord(c Codec, raw []byte, dst any) error {
	if len(raw) == 0 || raw[0] != recordVersion {
		return ErrCorruptValue
	}
	if dst == nil {
		return nil
	}
	if err := c.Unmarshal(raw[1:], dst); err != nil {
		return fmt.Errorf("keyval: decoding value with %s: %w", c.Name(), err)
	}
	return nil
}
