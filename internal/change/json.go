package change

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/canopy/internal/tree"
)

// Document is the JSON form of a Change, used by the HTTP API and the
// change mirror.
type Document struct {
	Op     Op             `json:"op"`
	ID     uuid.UUID      `json:"id"`
	Parent *uuid.UUID     `json:"parent_id,omitempty"`
	Name   *string        `json:"name,omitempty"`
	Data   *tree.DataJSON `json:"data,omitempty"`
}

// ToDocument converts c to its JSON form.
func ToDocument(c Change) Document {
	doc := Document{Op: c.Op(), ID: c.NodeID()}
	switch v := c.(type) {
	case NodeAdded:
		parent := v.Parent
		doc.Parent = &parent
		doc.Name = v.Name
		doc.Data = &tree.DataJSON{Data: v.Data}
	case NodeChangedName:
		name := v.Name
		doc.Name = &name
	case NodeChangedData:
		doc.Data = &tree.DataJSON{Data: v.Data}
	}
	return doc
}

// Change converts the document back to a Change, validating that the fields
// required by its op are present.
func (d Document) Change() (Change, error) {
	if d.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: %s without id", ErrInvalid, d.Op)
	}
	switch d.Op {
	case OpNodeAdded:
		if d.Parent == nil || d.Data == nil || d.Data.Data == nil {
			return nil, fmt.Errorf("%w: node_added requires parent_id and data", ErrInvalid)
		}
		return NodeAdded{Data: d.Data.Data, Name: d.Name, ID: d.ID, Parent: *d.Parent}, nil
	case OpNodeRemoved:
		return NodeRemoved{ID: d.ID}, nil
	case OpNodeChangedName:
		if d.Name == nil {
			return nil, fmt.Errorf("%w: node_changed_name requires name", ErrInvalid)
		}
		return NodeChangedName{ID: d.ID, Name: *d.Name}, nil
	case OpNodeChangedData:
		if d.Data == nil || d.Data.Data == nil {
			return nil, fmt.Errorf("%w: node_changed_data requires data", ErrInvalid)
		}
		return NodeChangedData{ID: d.ID, Data: d.Data.Data}, nil
	default:
		return nil, fmt.Errorf("%w: unknown op %q", ErrInvalid, d.Op)
	}
}

// MarshalChange encodes c as JSON.
func MarshalChange(c Change) ([]byte, error) {
	return json.Marshal(ToDocument(c))
}

// UnmarshalChange decodes a JSON document into a Change.
func UnmarshalChange(b []byte) (Change, error) {
	var d Document
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return d.Change()
}
