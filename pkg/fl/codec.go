package fl

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

// Codec serialises federated messages on the wire.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct{}

func (jsonCodec) ContentType() string                { return ContentTypeJSON }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type cborCodec struct {
	enc cbor.EncMode
}

func (c cborCodec) ContentType() string                { return ContentTypeCBOR }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return cbor.Unmarshal(data, v) }

var (
	JSONCodec Codec = jsonCodec{}
	CBORCodec Codec = newCBORCodec()
)

func newCBORCodec() Codec {
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}

	return cborCodec{enc: enc}
}

// CodecFor picks a codec by name or MIME type.
func CodecFor(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json", ContentTypeJSON:
		return JSONCodec, nil
	case "cbor", ContentTypeCBOR:
		return CBORCodec, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContentType, name)
	}
}
