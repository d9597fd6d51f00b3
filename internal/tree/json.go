package tree

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/canopy/internal/permissions"
)

// DataJSON adapts a Data value to JSON as {"type": "...", "value": ...}.
// Tuples and lists use "values" instead of "value".
type DataJSON struct {
	Data Data
}

type dataEnvelope struct {
	Type   string            `json:"type"`
	Value  json.RawMessage   `json:"value,omitempty"`
	Values []json.RawMessage `json:"values,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (j DataJSON) MarshalJSON() ([]byte, error) {
	if j.Data == nil {
		return []byte("null"), nil
	}
	env := dataEnvelope{Type: j.Data.Kind().String()}

	var value any
	switch v := j.Data.(type) {
	case Folder:
	case Button:
		value = v.Count
	case Float32:
		value = float32(v)
	case Float64:
		value = float64(v)
	case Int32:
		value = int32(v)
	case Int64:
		value = int64(v)
	case UInt32:
		value = uint32(v)
	case UInt64:
		value = uint64(v)
	case String:
		value = string(v)
	case Bool:
		value = bool(v)
	case Tuple:
		vals, err := marshalValues(v.Values)
		if err != nil {
			return nil, err
		}
		env.Values = vals
	case List:
		vals, err := marshalValues(v.Values)
		if err != nil {
			return nil, err
		}
		env.Values = vals
	default:
		return nil, fmt.Errorf("unsupported data type %T", v)
	}

	if value != nil {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		env.Value = raw
	}
	return json.Marshal(env)
}

func marshalValues(values []Data) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(values))
	for _, v := range values {
		raw, err := json.Marshal(DataJSON{Data: v})
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (j *DataJSON) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		j.Data = nil
		return nil
	}
	var env dataEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	kind, err := ParseKind(env.Type)
	if err != nil {
		return err
	}

	switch kind {
	case KindFolder:
		j.Data = Folder{}
		return nil
	case KindTuple, KindList:
		values := make([]Data, 0, len(env.Values))
		for _, raw := range env.Values {
			var elem DataJSON
			if err := json.Unmarshal(raw, &elem); err != nil {
				return err
			}
			values = append(values, elem.Data)
		}
		if kind == KindTuple {
			j.Data = Tuple{Values: values}
		} else {
			j.Data = List{Values: values}
		}
		return nil
	}

	if len(env.Value) == 0 {
		if kind != KindButton {
			return fmt.Errorf("%s value missing", kind)
		}
		j.Data = Button{}
		return nil
	}

	switch kind {
	case KindButton:
		var n uint64
		err = json.Unmarshal(env.Value, &n)
		j.Data = Button{Count: n}
	case KindFloat32:
		var f float32
		err = json.Unmarshal(env.Value, &f)
		j.Data = Float32(f)
	case KindFloat64:
		var f float64
		err = json.Unmarshal(env.Value, &f)
		j.Data = Float64(f)
	case KindInt32:
		var n int32
		err = json.Unmarshal(env.Value, &n)
		j.Data = Int32(n)
	case KindInt64:
		var n int64
		err = json.Unmarshal(env.Value, &n)
		j.Data = Int64(n)
	case KindUInt32:
		var n uint32
		err = json.Unmarshal(env.Value, &n)
		j.Data = UInt32(n)
	case KindUInt64:
		var n uint64
		err = json.Unmarshal(env.Value, &n)
		j.Data = UInt64(n)
	case KindString:
		var s string
		err = json.Unmarshal(env.Value, &s)
		j.Data = String(s)
	case KindBool:
		var v bool
		err = json.Unmarshal(env.Value, &v)
		j.Data = Bool(v)
	}
	if err != nil {
		return fmt.Errorf("decode %s value: %w", kind, err)
	}
	return nil
}

// View is a read-only copy of a subtree, safe to hand to other goroutines
// and to encode as JSON.
type View struct {
	ID         uuid.UUID              `json:"id"`
	Name       *string                `json:"name,omitempty"`
	Data       DataJSON               `json:"data"`
	Permission permissions.Permission `json:"permission"`
	Children   []View                 `json:"children,omitempty"`
}

// Snapshot copies the subtree rooted at n into a View.
func (n *Node) Snapshot() View {
	v := View{
		ID:         n.id,
		Data:       DataJSON{Data: CloneData(n.data)},
		Permission: n.permission,
	}
	if n.name != nil {
		name := *n.name
		v.Name = &name
	}
	if len(n.children) > 0 {
		v.Children = make([]View, len(n.children))
		for i, c := range n.children {
			v.Children[i] = c.Snapshot()
		}
	}
	return v
}

// Count returns the number of nodes in the view.
func (v View) Count() int {
	total := 1
	for _, c := range v.Children {
		total += c.Count()
	}
	return total
}
