package tree

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Field tags mixed into the digest so that adjacent fields cannot alias.
const (
	tagNoName byte = 0x00
	tagName   byte = 0x01
)

// Hash returns the content hash of the subtree rooted at n. It covers id,
// name, payload and children (in order) recursively; permissions and
// observers are not part of it.
func (n *Node) Hash() uint64 {
	d := xxhash.New()
	n.writeHash(d)
	return d.Sum64()
}

func (n *Node) writeHash(d *xxhash.Digest) {
	var buf [8]byte

	_, _ = d.Write(n.id[:])
	if n.name == nil {
		_, _ = d.Write([]byte{tagNoName})
	} else {
		_, _ = d.Write([]byte{tagName})
		writeUint(d, &buf, uint64(len(*n.name)))
		_, _ = d.WriteString(*n.name)
	}
	writeData(d, &buf, n.data)

	writeUint(d, &buf, uint64(len(n.children)))
	for _, c := range n.children {
		writeUint(d, &buf, c.Hash())
	}
}

// HashData returns the hash of a single payload.
func HashData(data Data) uint64 {
	d := xxhash.New()
	var buf [8]byte
	writeData(d, &buf, data)
	return d.Sum64()
}

func writeUint(d *xxhash.Digest, buf *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = d.Write(buf[:])
}

func writeData(d *xxhash.Digest, buf *[8]byte, data Data) {
	if data == nil {
		_, _ = d.Write([]byte{0})
		return
	}
	_, _ = d.Write([]byte{byte(data.Kind())})

	switch v := data.(type) {
	case Folder:
	case Button:
		writeUint(d, buf, v.Count)
	case Float32:
		writeUint(d, buf, uint64(math.Float32bits(float32(v))))
	case Float64:
		writeUint(d, buf, math.Float64bits(float64(v)))
	case Int32:
		writeUint(d, buf, uint64(int64(v)))
	case Int64:
		writeUint(d, buf, uint64(v))
	case UInt32:
		writeUint(d, buf, uint64(v))
	case UInt64:
		writeUint(d, buf, uint64(v))
	case String:
		writeUint(d, buf, uint64(len(v)))
		_, _ = d.WriteString(string(v))
	case Bool:
		if v {
			writeUint(d, buf, 1)
		} else {
			writeUint(d, buf, 0)
		}
	case Tuple:
		writeValues(d, buf, v.Values)
	case List:
		writeValues(d, buf, v.Values)
	}
}

func writeValues(d *xxhash.Digest, buf *[8]byte, values []Data) {
	writeUint(d, buf, uint64(len(values)))
	for _, v := range values {
		writeData(d, buf, v)
	}
}
