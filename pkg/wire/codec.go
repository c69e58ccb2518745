package wire

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	cbor "github.com/fxamacker/cbor/v2"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// ContentType is the MIME type describing how a Message body is encoded.
// The zero value means unset.
type ContentType string

const (
	ContentTypeProtobuf ContentType = "application/x-protobuf"
	ContentTypeJSON     ContentType = "application/json"
	ContentTypeCBOR     ContentType = "application/cbor"
)

func (ct ContentType) String() string {
	switch ct {
	case ContentTypeProtobuf:
		return "PROTOBUF"
	case ContentTypeJSON:
		return "JSON"
	case ContentTypeCBOR:
		return "CBOR"
	case "":
		return "UNSET"
	default:
		return string(ct)
	}
}

// Codec converts between typed values and message bodies.
type Codec interface {
	ContentType() ContentType
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var (
	codecsMu sync.RWMutex
	codecs   = map[ContentType]Codec{}
)

func init() {
	RegisterCodec(ProtoCodec())
	RegisterCodec(JSONCodec())
	RegisterCodec(MustCBORCodec())
}

// RegisterCodec installs c for its content type, replacing any previous codec.
func RegisterCodec(c Codec) {
	codecsMu.Lock()
	defer codecsMu.Unlock()
	codecs[c.ContentType()] = c
}

// CodecFor returns the codec for ct or an ErrUnsupportedContentType error.
func CodecFor(ct ContentType) (Codec, error) {
	codecsMu.RLock()
	defer codecsMu.RUnlock()
	c, ok := codecs[ct]
	if !ok {
		return nil, UnsupportedContentType(ct)
	}
	return c, nil
}

// KnownContentType reports whether a codec is registered for ct.
func KnownContentType(ct ContentType) bool {
	_, err := CodecFor(ct)
	return err == nil
}

type protoCodec struct {
	mo proto.MarshalOptions
	uo proto.UnmarshalOptions
}

// ProtoCodec returns a Protocol Buffers codec with deterministic marshaling.
func ProtoCodec() Codec {
	return protoCodec{
		mo: proto.MarshalOptions{Deterministic: true},
		uo: proto.UnmarshalOptions{},
	}
}

func (protoCodec) ContentType() ContentType { return ContentTypeProtobuf }

func (p protoCodec) Marshal(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("protobuf: value does not implement proto.Message: %T", v)
	}
	return p.mo.Marshal(msg)
}

func (p protoCodec) Unmarshal(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("protobuf: target does not implement proto.Message: %T", v)
	}
	return p.uo.Unmarshal(data, msg)
}

// jsonCodec uses protojson for proto messages so that well-known types keep
// their canonical JSON mapping, and encoding/json for everything else.
type jsonCodec struct {
	mo protojson.MarshalOptions
	uo protojson.UnmarshalOptions
}

func JSONCodec() Codec {
	return jsonCodec{
		mo: protojson.MarshalOptions{EmitUnpopulated: true},
		uo: protojson.UnmarshalOptions{},
	}
}

func (jsonCodec) ContentType() ContentType { return ContentTypeJSON }

func (j jsonCodec) Marshal(v any) ([]byte, error) {
	if msg, ok := v.(proto.Message); ok {
		return j.mo.Marshal(msg)
	}
	return json.Marshal(v)
}

func (j jsonCodec) Unmarshal(data []byte, v any) error {
	if msg, ok := v.(proto.Message); ok {
		return j.uo.Unmarshal(data, msg)
	}
	return json.Unmarshal(data, v)
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBORCodec returns a deterministic CBOR codec. Maps decoded into an empty
// interface come back as map[string]any.
func CBORCodec() (Codec, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dm, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
	if err != nil {
		return nil, err
	}
	return cborCodec{enc: em, dec: dm}, nil
}

func MustCBORCodec() Codec {
	c, err := CBORCodec()
	if err != nil {
		panic(err)
	}
	return c
}

func (cborCodec) ContentType() ContentType { return ContentTypeCBOR }

func (c cborCodec) Marshal(v any) ([]byte, error) { return c.enc.Marshal(v) }

func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }
