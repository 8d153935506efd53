package recipe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Canonicalize renders v as JSON with object keys sorted at every nesting
// level and arrays kept in order. Strings are treated as JSON text; a Recipe
// or UnsealingInstructions renders its own fields; any other value is
// marshalled first. Numbers keep their literal form and nulls are kept.
func Canonicalize(v any) (string, error) { // A
	var generic any
	switch val := v.(type) {
	case string:
		if strings.TrimSpace(val) == "" {
			return "{}", nil
		}
		g, err := decodeGeneric([]byte(val))
		if err != nil {
			return "", fmt.Errorf("canonical: decode: %w", err)
		}
		generic = g
	case Recipe:
		generic = val.fieldsOrEmpty()
	case UnsealingInstructions:
		generic = val.fieldsOrEmpty()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("canonical: marshal: %w", err)
		}
		g, err := decodeGeneric(b)
		if err != nil {
			return "", fmt.Errorf("canonical: decode: %w", err)
		}
		generic = g
	}

	out, err := encodeCanonical(generic)
	if err != nil {
		return "", fmt.Errorf("canonical: encode: %w", err)
	}
	return out, nil
}

// decodeGeneric decodes JSON into maps, slices and json.Number values.
func decodeGeneric(b []byte) (any, error) { // A
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after JSON value")
	}
	return out, nil
}

// encodeCanonical relies on encoding/json sorting map keys. HTML escaping is
// turned off so string values are emitted unchanged.
func encodeCanonical(v any) (string, error) { // A
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
