package wire

import (
	"reflect"

	"google.golang.org/protobuf/proto"
)

// Schema describes the Go type a body decodes into. Pointer types such as
// generated protobuf messages decode into a fresh instance; value types
// decode through a temporary pointer.
type Schema struct {
	typ reflect.Type
}

func SchemaOf[T any]() Schema {
	return Schema{typ: reflect.TypeFor[T]()}
}

// SchemaFor returns the schema of v. A pointer to a non-proto value type
// describes the pointed-to type, since that is what decoding targets.
func SchemaFor(v any) Schema {
	if v == nil {
		return Schema{}
	}
	t := reflect.TypeOf(v)
	if _, isProto := v.(proto.Message); !isProto && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return Schema{typ: t}
}

func (s Schema) IsZero() bool { return s.typ == nil }

func (s Schema) Type() reflect.Type { return s.typ }

// Name is the protobuf full name for proto messages and the Go type name
// otherwise.
func (s Schema) Name() string {
	if s.typ == nil {
		return "<nil>"
	}
	if s.typ.Implements(protoMessageType) {
		if msg, ok := s.newTarget().Interface().(proto.Message); ok {
			return string(msg.ProtoReflect().Descriptor().FullName())
		}
	}
	return s.typ.String()
}

// Accepts reports whether v is a value of the schema's type.
func (s Schema) Accepts(v any) bool {
	if s.typ == nil || v == nil {
		return false
	}
	return reflect.TypeOf(v) == s.typ
}

// Decode unpacks the body of msg into a new value of the schema's type.
func (s Schema) Decode(msg *Message) (any, error) {
	if s.typ == nil {
		return nil, Validationf("decode with empty schema")
	}
	target := s.newTarget()
	if err := msg.Unpack(target.Interface()); err != nil {
		return nil, err
	}
	if s.typ.Kind() == reflect.Pointer {
		return target.Interface(), nil
	}
	return target.Elem().Interface(), nil
}

// Encode packs v into msg after checking it matches the schema.
func (s Schema) Encode(msg *Message, v any) error {
	if !s.Accepts(v) {
		return Validationf("expected value of type %s but got %T", s.Name(), v)
	}
	return msg.Pack(v)
}

// newTarget returns a pointer that codecs can decode into.
func (s Schema) newTarget() reflect.Value {
	if s.typ.Kind() == reflect.Pointer {
		return reflect.New(s.typ.Elem())
	}
	return reflect.New(s.typ)
}

var protoMessageType = reflect.TypeFor[proto.Message]()
