package wire

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/fyrsmithlabs/canopy/internal/change"
	"github.com/fyrsmithlabs/canopy/internal/tree"
)

// Marshal encodes m as an envelope payload (without frame header).
func Marshal(m Message) ([]byte, error) {
	var body []byte
	switch v := m.(type) {
	case ClientHello:
		body = protowire.AppendTag(body, 1, protowire.VarintType)
		body = protowire.AppendVarint(body, uint64(v.Version))
		if v.Token != "" {
			body = protowire.AppendTag(body, 2, protowire.BytesType)
			body = protowire.AppendString(body, v.Token)
		}
	case ServerAccept:
		body = protowire.AppendTag(body, 1, protowire.VarintType)
		body = protowire.AppendVarint(body, v.Session)
		body = protowire.AppendTag(body, 2, protowire.VarintType)
		body = protowire.AppendVarint(body, uint64(v.Validity))
	case ServerChange:
		c, err := appendChange(nil, v.Change)
		if err != nil {
			return nil, err
		}
		body = protowire.AppendTag(body, 1, protowire.BytesType)
		body = protowire.AppendBytes(body, c)
		body = protowire.AppendTag(body, 2, protowire.Fixed64Type)
		body = protowire.AppendFixed64(body, v.Hash)
	case ServerLog:
		body = protowire.AppendTag(body, 1, protowire.BytesType)
		body = protowire.AppendString(body, v.Text)
	case ClientHash:
		body = protowire.AppendTag(body, 1, protowire.Fixed64Type)
		body = protowire.AppendFixed64(body, v.Hash)
	case ClientTrigger:
		body = appendUUID(body, 1, v.ID)
	case ServerSnapshot:
		var err error
		if body, err = appendSnapshot(body, v.Snapshot); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("marshal: unsupported message %T", m)
	}

	out := protowire.AppendTag(nil, protowire.Number(m.Kind()), protowire.BytesType)
	return protowire.AppendBytes(out, body), nil
}

// Unmarshal decodes an envelope payload. Every failure wraps ErrDecode.
func Unmarshal(b []byte) (Message, error) {
	var (
		msg   Message
		count int
	)
	err := forEachField(b, func(f field) error {
		count++
		if err := f.want(protowire.BytesType); err != nil {
			return err
		}
		var err error
		msg, err = decodeMessage(Kind(f.num), f.b)
		return err
	})
	if err != nil {
		return nil, err
	}
	if count != 1 {
		return nil, fmt.Errorf("%w: envelope holds %d messages", ErrDecode, count)
	}
	return msg, nil
}

func decodeMessage(kind Kind, b []byte) (Message, error) {
	switch kind {
	case KindClientHello:
		var m ClientHello
		err := forEachField(b, func(f field) error {
			switch f.num {
			case 1:
				if f.u > math.MaxUint32 {
					return fmt.Errorf("%w: version out of range", ErrDecode)
				}
				m.Version = uint32(f.u)
				return f.want(protowire.VarintType)
			case 2:
				m.Token = string(f.b)
				return f.want(protowire.BytesType)
			}
			return nil
		})
		return m, err

	case KindServerAccept:
		var m ServerAccept
		err := forEachField(b, func(f field) error {
			switch f.num {
			case 1:
				m.Session = f.u
				return f.want(protowire.VarintType)
			case 2:
				m.Validity = uint32(f.u)
				return f.want(protowire.VarintType)
			}
			return nil
		})
		return m, err

	case KindServerChange:
		var m ServerChange
		err := forEachField(b, func(f field) error {
			switch f.num {
			case 1:
				if err := f.want(protowire.BytesType); err != nil {
					return err
				}
				c, err := decodeChange(f.b)
				m.Change = c
				return err
			case 2:
				m.Hash = f.u
				return f.want(protowire.Fixed64Type)
			}
			return nil
		})
		if err == nil && m.Change == nil {
			err = fmt.Errorf("%w: server_change without change", ErrDecode)
		}
		return m, err

	case KindServerLog:
		var m ServerLog
		err := forEachField(b, func(f field) error {
			if f.num == 1 {
				m.Text = string(f.b)
				return f.want(protowire.BytesType)
			}
			return nil
		})
		return m, err

	case KindClientHash:
		var m ClientHash
		err := forEachField(b, func(f field) error {
			if f.num == 1 {
				m.Hash = f.u
				return f.want(protowire.Fixed64Type)
			}
			return nil
		})
		return m, err

	case KindClientTrigger:
		var m ClientTrigger
		err := forEachField(b, func(f field) error {
			if f.num == 1 {
				id, err := f.uuid()
				m.ID = id
				return err
			}
			return nil
		})
		return m, err

	case KindServerSnapshot:
		s, err := decodeSnapshot(b)
		return ServerSnapshot{Snapshot: s}, err

	default:
		return nil, fmt.Errorf("%w: unknown message kind %d", ErrDecode, kind)
	}
}

// Change encoding: one field whose number selects the op.
//   1 node_added   {1 data, 2 name, 3 id, 4 parent}
//   2 node_removed {1 id}
//   3 node_changed_name {1 id, 2 name}
//   4 node_changed_data {1 id, 2 data}

func appendChange(b []byte, c change.Change) ([]byte, error) {
	var (
		num  protowire.Number
		body []byte
		err  error
	)
	switch v := c.(type) {
	case change.NodeAdded:
		num = 1
		body, err = appendNodeAdded(nil, v)
	case change.NodeRemoved:
		num = 2
		body = appendUUID(nil, 1, v.ID)
	case change.NodeChangedName:
		num = 3
		body = appendUUID(nil, 1, v.ID)
		body = protowire.AppendTag(body, 2, protowire.BytesType)
		body = protowire.AppendString(body, v.Name)
	case change.NodeChangedData:
		num = 4
		body = appendUUID(nil, 1, v.ID)
		body, err = appendDataField(body, 2, v.Data)
	default:
		return nil, fmt.Errorf("marshal: unsupported change %T", c)
	}
	if err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body), nil
}

func appendNodeAdded(b []byte, v change.NodeAdded) ([]byte, error) {
	b, err := appendDataField(b, 1, v.Data)
	if err != nil {
		return nil, err
	}
	if v.Name != nil {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, *v.Name)
	}
	b = appendUUID(b, 3, v.ID)
	return appendUUID(b, 4, v.Parent), nil
}

func decodeChange(b []byte) (change.Change, error) {
	var (
		c     change.Change
		count int
	)
	err := forEachField(b, func(f field) error {
		count++
		if err := f.want(protowire.BytesType); err != nil {
			return err
		}
		var err error
		switch f.num {
		case 1:
			c, err = decodeNodeAdded(f.b)
		case 2:
			var v change.NodeRemoved
			err = forEachField(f.b, func(g field) error {
				if g.num == 1 {
					id, err := g.uuid()
					v.ID = id
					return err
				}
				return nil
			})
			c = v
		case 3:
			var v change.NodeChangedName
			err = forEachField(f.b, func(g field) error {
				switch g.num {
				case 1:
					id, err := g.uuid()
					v.ID = id
					return err
				case 2:
					name, err := g.text()
					v.Name = name
					return err
				}
				return nil
			})
			c = v
		case 4:
			var v change.NodeChangedData
			err = forEachField(f.b, func(g field) error {
				switch g.num {
				case 1:
					id, err := g.uuid()
					v.ID = id
					return err
				case 2:
					d, err := g.data()
					v.Data = d
					return err
				}
				return nil
			})
			if err == nil && v.Data == nil {
				err = fmt.Errorf("%w: node_changed_data without data", ErrDecode)
			}
			c = v
		default:
			err = fmt.Errorf("%w: unknown change op %d", ErrDecode, f.num)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if count != 1 {
		return nil, fmt.Errorf("%w: change holds %d ops", ErrDecode, count)
	}
	return c, nil
}

func decodeNodeAdded(b []byte) (change.NodeAdded, error) {
	var v change.NodeAdded
	err := forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			d, err := f.data()
			v.Data = d
			return err
		case 2:
			name, err := f.text()
			v.Name = &name
			return err
		case 3:
			id, err := f.uuid()
			v.ID = id
			return err
		case 4:
			id, err := f.uuid()
			v.Parent = id
			return err
		}
		return nil
	})
	switch {
	case err != nil:
	case v.ID == uuid.Nil:
		err = fmt.Errorf("%w: node_added without id", ErrDecode)
	case v.Data == nil:
		err = fmt.Errorf("%w: node_added without data", ErrDecode)
	}
	return v, err
}

func appendSnapshot(b []byte, s change.Snapshot) ([]byte, error) {
	b = appendUUID(b, 1, s.RootID)
	if s.RootName != nil {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, *s.RootName)
	}
	b, err := appendDataField(b, 3, s.RootData)
	if err != nil {
		return nil, err
	}
	for _, c := range s.Changes {
		body, err := appendNodeAdded(nil, c)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, body)
	}
	b = protowire.AppendTag(b, 5, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, s.Hash), nil
}

func decodeSnapshot(b []byte) (change.Snapshot, error) {
	var s change.Snapshot
	err := forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			id, err := f.uuid()
			s.RootID = id
			return err
		case 2:
			name, err := f.text()
			s.RootName = &name
			return err
		case 3:
			d, err := f.data()
			s.RootData = d
			return err
		case 4:
			if err := f.want(protowire.BytesType); err != nil {
				return err
			}
			c, err := decodeNodeAdded(f.b)
			if err != nil {
				return err
			}
			s.Changes = append(s.Changes, c)
		case 5:
			s.Hash = f.u
			return f.want(protowire.Fixed64Type)
		}
		return nil
	})
	if err == nil && s.RootData == nil {
		s.RootData = tree.Folder{}
	}
	return s, err
}

func appendUUID(b []byte, num protowire.Number, id uuid.UUID) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, id[:])
}
