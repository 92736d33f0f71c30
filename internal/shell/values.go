package shell

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"keyval/pkg/keyval"
)

// ParseValue turns command-line text into the value stored by the given
// codec. gob stores the text as a string. json stores a JSON literal when
// text is one, else the text as a string. proto stores a
// google.protobuf.Value built the same way.
func ParseValue(codec keyval.Codec, text string) (any, error) {
	switch codec.Name() {
	case "json":
		if json.Valid([]byte(text)) {
			var v any
			if err := json.Unmarshal([]byte(text), &v); err != nil {
				return nil, err
			}
			return v, nil
		}
		return text, nil
	case "proto":
		if json.Valid([]byte(text)) {
			v := &structpb.Value{}
			if err := protojson.Unmarshal([]byte(text), v); err != nil {
				return nil, err
			}
			return v, nil
		}
		return structpb.NewStringValue(text), nil
	default:
		return text, nil
	}
}

// WriteValue parses text with ParseValue and stores it under key.
func WriteValue(ctx context.Context, s *keyval.Store, key keyval.Key, text string) error {
	v, err := ParseValue(s.Codec(), text)
	if err != nil {
		return fmt.Errorf("parsing value: %w", err)
	}
	return s.Set(ctx, key, v)
}

// ReadValue reads key and renders its value as text. Strings print bare,
// anything else prints as JSON.
func ReadValue(ctx context.Context, s *keyval.Store, key keyval.Key) (string, bool, error) {
	switch s.Codec().Name() {
	case "json":
		var v any
		found, err := s.Get(ctx, key, &v)
		if err != nil || !found {
			return "", found, err
		}
		if str, ok := v.(string); ok {
			return str, true, nil
		}
		out, err := json.Marshal(v)
		if err != nil {
			return "", true, err
		}
		return string(out), true, nil
	case "proto":
		v, found, err := keyval.GetFrom[*structpb.Value](ctx, s, key)
		if err != nil || !found {
			return "", found, err
		}
		if sv, ok := v.GetKind().(*structpb.Value_StringValue); ok {
			return sv.StringValue, true, nil
		}
		out, err := protojson.Marshal(v)
		if err != nil {
			return "", true, err
		}
		return string(out), true, nil
	default:
		return keyval.GetFrom[string](ctx, s, key)
	}
}

// FormatKey renders a key as returned by Keys.
func FormatKey(k keyval.Key) string {
	switch v := k.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case []byte:
		return "0x" + hex.EncodeToString(v)
	case []any:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = FormatKey(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprint(v)
	}
}
