package serialization

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type Greeter struct {
	Prefix string `json:"prefix"`
}

func (g *Greeter) Greet(name string) string {
	return g.Prefix + name
}

func TestSerializeStruct_RoundTrip(t *testing.T) {
	data, err := SerializeStruct(&Greeter{Prefix: "hello, "})
	require.NoError(t, err)

	v, err := DeserializeStruct(data)
	require.NoError(t, err)

	g, ok := v.(*Greeter)
	require.True(t, ok)
	require.Equal(t, "hello, world", g.Greet("world"))
}

func TestDeserializeStruct_UnknownType(t *testing.T) {
	_, err := DeserializeStruct([]byte(`{"pkgPath":"example.com/nowhere","name":"Nothing","data":{}}`))
	require.ErrorIs(t, err, ErrUnresolved)
}
