package wire

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/fyrsmithlabs/canopy/internal/tree"
)

// Data encoding: exactly one field, numbered by tree.Kind.
//   1 folder (empty bytes)   2 button (varint)    3 float32 (fixed32)
//   4 float64 (fixed64)      5 int32 (zigzag)     6 int64 (zigzag)
//   7 uint32 (varint)        8 uint64 (varint)    9 string (bytes)
//   10 bool (varint)         11 tuple, 12 list (bytes: repeated 1 data)

func appendDataField(b []byte, num protowire.Number, d tree.Data) ([]byte, error) {
	body, err := appendData(nil, d)
	if err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body), nil
}

func appendData(b []byte, d tree.Data) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("marshal: nil data")
	}
	num := protowire.Number(d.Kind())
	switch v := d.(type) {
	case tree.Folder:
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, nil)
	case tree.Button:
		b = protowire.AppendTag(b, num, protowire.VarintType)
		b = protowire.AppendVarint(b, v.Count)
	case tree.Float32:
		b = protowire.AppendTag(b, num, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(float32(v)))
	case tree.Float64:
		b = protowire.AppendTag(b, num, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(float64(v)))
	case tree.Int32:
		b = protowire.AppendTag(b, num, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v)))
	case tree.Int64:
		b = protowire.AppendTag(b, num, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v)))
	case tree.UInt32:
		b = protowire.AppendTag(b, num, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v))
	case tree.UInt64:
		b = protowire.AppendTag(b, num, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v))
	case tree.String:
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendString(b, string(v))
	case tree.Bool:
		b = protowire.AppendTag(b, num, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(bool(v)))
	case tree.Tuple:
		return appendValues(b, num, v.Values)
	case tree.List:
		return appendValues(b, num, v.Values)
	default:
		return nil, fmt.Errorf("marshal: unsupported data %T", d)
	}
	return b, nil
}

func appendValues(b []byte, num protowire.Number, values []tree.Data) ([]byte, error) {
	var body []byte
	for _, v := range values {
		var err error
		if body, err = appendDataField(body, 1, v); err != nil {
			return nil, err
		}
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body), nil
}

func decodeData(b []byte) (tree.Data, error) {
	var (
		d     tree.Data
		count int
	)
	err := forEachField(b, func(f field) error {
		count++
		var err error
		d, err = decodeDataField(f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if count != 1 {
		return nil, fmt.Errorf("%w: data holds %d values", ErrDecode, count)
	}
	return d, nil
}

func decodeDataField(f field) (tree.Data, error) {
	kind := tree.Kind(f.num)
	switch kind {
	case tree.KindFolder:
		return tree.Folder{}, f.want(protowire.BytesType)
	case tree.KindButton:
		return tree.Button{Count: f.u}, f.want(protowire.VarintType)
	case tree.KindFloat32:
		return tree.Float32(math.Float32frombits(uint32(f.u))), f.want(protowire.Fixed32Type)
	case tree.KindFloat64:
		return tree.Float64(math.Float64frombits(f.u)), f.want(protowire.Fixed64Type)
	case tree.KindInt32:
		v := protowire.DecodeZigZag(f.u)
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, fmt.Errorf("%w: int32 out of range", ErrDecode)
		}
		return tree.Int32(v), f.want(protowire.VarintType)
	case tree.KindInt64:
		return tree.Int64(protowire.DecodeZigZag(f.u)), f.want(protowire.VarintType)
	case tree.KindUInt32:
		if f.u > math.MaxUint32 {
			return nil, fmt.Errorf("%w: uint32 out of range", ErrDecode)
		}
		return tree.UInt32(f.u), f.want(protowire.VarintType)
	case tree.KindUInt64:
		return tree.UInt64(f.u), f.want(protowire.VarintType)
	case tree.KindString:
		v, err := f.text()
		return tree.String(v), err
	case tree.KindBool:
		return tree.Bool(protowire.DecodeBool(f.u)), f.want(protowire.VarintType)
	case tree.KindTuple, tree.KindList:
		if err := f.want(protowire.BytesType); err != nil {
			return nil, err
		}
		var values []tree.Data
		err := forEachField(f.b, func(g field) error {
			if g.num != 1 {
				return fmt.Errorf("%w: unexpected field %d in %s", ErrDecode, g.num, kind)
			}
			v, err := g.data()
			values = append(values, v)
			return err
		})
		if err != nil {
			return nil, err
		}
		if kind == tree.KindTuple {
			return tree.Tuple{Values: values}, nil
		}
		return tree.List{Values: values}, nil
	default:
		return nil, fmt.Errorf("%w: unknown data kind %d", ErrDecode, f.num)
	}
}

// field is one decoded protobuf field. Scalars land in u, bytes in b.
type field struct {
	num protowire.Number
	typ protowire.Type
	u   uint64
	b   []byte
}

func (f field) want(typ protowire.Type) error {
	if f.typ != typ {
		return fmt.Errorf("%w: field %d has wire type %d, want %d", ErrDecode, f.num, f.typ, typ)
	}
	return nil
}

func (f field) uuid() (uuid.UUID, error) {
	if err := f.want(protowire.BytesType); err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.FromBytes(f.b)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: field %d: %v", ErrDecode, f.num, err)
	}
	return id, nil
}

// text decodes a string field. Strings also travel as JSON, so they must
// be valid UTF-8.
func (f field) text() (string, error) {
	if err := f.want(protowire.BytesType); err != nil {
		return "", err
	}
	if !utf8.Valid(f.b) {
		return "", fmt.Errorf("%w: field %d is not valid UTF-8", ErrDecode, f.num)
	}
	return string(f.b), nil
}

func (f field) data() (tree.Data, error) {
	if err := f.want(protowire.BytesType); err != nil {
		return nil, err
	}
	return decodeData(f.b)
}

func forEachField(b []byte, fn func(field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.u = uint64(v)
		case protowire.Fixed64Type:
			f.u, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrDecode, num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}
