package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/i5heu/seedgate/pkg/recipe"
)

// Codec turns messages into frames and back.
type Codec interface {
	Name() string
	Marshal(msg map[string]any) ([]byte, error)
	Unmarshal(frame []byte) (map[string]any, error)
}

// JSONCodec writes binary values as base64url text.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(msg map[string]any) ([]byte, error) {
	out := make(map[string]any, len(msg))
	for k, v := range msg {
		if b, ok := v.([]byte); ok {
			out[k] = recipe.EncodeBinary(b)
			continue
		}
		out[k] = v
	}
	return json.Marshal(out)
}

func (JSONCodec) Unmarshal(frame []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(frame))
	dec.UseNumber()
	var msg map[string]any
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("decode json message: %w", err)
	}
	if msg == nil {
		return nil, fmt.Errorf("decode json message: not an object")
	}
	return msg, nil
}

// CBORCodec carries binary values natively.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func NewCBORCodec() (*CBORCodec, error) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor enc mode: %w", err)
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor dec mode: %w", err)
	}
	return &CBORCodec{enc: enc, dec: dec}, nil
}

func (*CBORCodec) Name() string { return "cbor" }

func (c *CBORCodec) Marshal(msg map[string]any) ([]byte, error) {
	return c.enc.Marshal(msg)
}

func (c *CBORCodec) Unmarshal(frame []byte) (map[string]any, error) {
	var msg map[string]any
	if err := c.dec.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("decode cbor message: %w", err)
	}
	if msg == nil {
		return nil, fmt.Errorf("decode cbor message: not a map")
	}
	return msg, nil
}

// CodecByName returns the codec registered under name; "" means JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return NewCBORCodec()
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}
