package tree

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/canopy/internal/permissions"
)

func TestHashDeterministic(t *testing.T) {
	build := func() *Node {
		return New(Config{ID: id(1), Name: Name("root"), Children: []*Node{
			New(Config{ID: id(2), Name: Name("a"), Data: Float64(1.5)}),
			New(Config{ID: id(3), Data: NewTuple(Int32(1), Bool(false))}),
		}})
	}
	assert.Equal(t, build().Hash(), build().Hash())
}

func TestHashIgnoresPermissionsAndObservers(t *testing.T) {
	a := New(Config{ID: id(1), Permission: permissions.Admin()})
	b := New(Config{ID: id(1), Permission: permissions.Public()})
	b.Subscribe(&ObserverFuncs{})
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestHashSensitivity(t *testing.T) {
	base := func() *Node {
		return New(Config{ID: id(1), Children: []*Node{
			New(Config{ID: id(2), Data: Int32(1)}),
			New(Config{ID: id(3), Data: Int32(2)}),
		}})
	}
	ref := base().Hash()

	tests := []struct {
		name   string
		mutate func(*Node)
	}{
		{"child order", func(n *Node) {
			c := n.Child(0)
			n.RemoveChild(c.ID())
			n.AddChild(c)
		}},
		{"data value", func(n *Node) { n.Child(0).ChangeData(Int32(7)) }},
		{"data kind with same bits", func(n *Node) { n.Child(0).ChangeData(UInt32(1)) }},
		{"name set", func(n *Node) { n.ChangeName("") }},
		{"child added", func(n *Node) { n.AddChild(New(Config{ID: id(4)})) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := base()
			tt.mutate(n)
			assert.NotEqual(t, ref, n.Hash())
		})
	}
}

func TestHashFloatBitPattern(t *testing.T) {
	pos := HashData(Float64(0))
	neg := HashData(Float64(math.Copysign(0, -1)))
	assert.NotEqual(t, pos, neg)
	assert.Equal(t, HashData(Float32(float32(math.NaN()))), HashData(Float32(float32(math.NaN()))))
}

func TestEqualData(t *testing.T) {
	assert.True(t, EqualData(NewList(Int32(1), String("a")), NewList(Int32(1), String("a"))))
	assert.False(t, EqualData(NewList(Int32(1)), NewTuple(Int32(1))))
	assert.False(t, EqualData(Int32(1), Int64(1)))
	assert.True(t, EqualData(Button{Count: 3}, Button{Count: 3}))
	assert.True(t, EqualData(Float64(math.NaN()), Float64(math.NaN())))
}

func TestDataJSON(t *testing.T) {
	values := []Data{
		Folder{},
		Button{Count: 3},
		Float32(1.25),
		Int64(-9),
		UInt64(math.MaxUint64),
		String("hi"),
		Bool(false),
		NewTuple(Int32(1), NewList(String("x"))),
	}
	for _, d := range values {
		raw, err := json.Marshal(DataJSON{Data: d})
		require.NoError(t, err)

		var back DataJSON
		require.NoError(t, json.Unmarshal(raw, &back), string(raw))
		assert.True(t, EqualData(d, back.Data), "%s -> %s", FormatData(d), string(raw))
	}

	raw, err := json.Marshal(DataJSON{Data: Int32(5)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"int32","value":5}`, string(raw))

	var bad DataJSON
	assert.Error(t, json.Unmarshal([]byte(`{"type":"int32"}`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`{"type":"matrix","value":1}`), &bad))
}

func TestParseData(t *testing.T) {
	tests := []struct {
		kind Kind
		raw  string
		want Data
	}{
		{KindInt32, "-4", Int32(-4)},
		{KindUInt64, "18446744073709551615", UInt64(math.MaxUint64)},
		{KindBool, "true", Bool(true)},
		{KindString, "hello world", String("hello world")},
		{KindButton, "", Button{}},
		{KindFolder, "", Folder{}},
		{KindList, `{"type":"list","values":[{"type":"bool","value":true}]}`, NewList(Bool(true))},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			got, err := ParseData(tt.kind, tt.raw)
			require.NoError(t, err)
			assert.True(t, EqualData(tt.want, got))
		})
	}

	_, err := ParseData(KindInt32, "99999999999")
	assert.Error(t, err)
	_, err = ParseData(KindTuple, `{"type":"list","values":[]}`)
	assert.Error(t, err)
}
