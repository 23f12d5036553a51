// Package serialization encodes user-defined computation structs so that
// they can be shipped to workers by name. Only struct types are supported:
// the remote side resolves the type by its package path, so the type must
// be imported (and therefore compiled in) on every worker binary.
package serialization

import (
	"reflect"

	jsoniter "github.com/json-iterator/go"
	"github.com/modern-go/reflect2"
	"github.com/pkg/errors"
)

// ErrUnresolved is returned when the type with given package path and name
// does not exist on this process. It is usually caused by unuse; the Go
// compiler erases unimported types, so the receiver of a serialized struct
// must import the package defining it.
var ErrUnresolved = errors.New("unresolved type")

type structDesc struct {
	PkgPath string      `json:"pkgPath"`
	Name    string      `json:"name"`
	Data    interface{} `json:"data"`
}

func SerializeStruct(v interface{}) ([]byte, error) {
	typ := reflect.TypeOf(v)
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	return jsoniter.Marshal(structDesc{
		PkgPath: typ.PkgPath(),
		Name:    typ.Name(),
		Data:    v,
	})
}

func DeserializeStruct(data []byte) (interface{}, error) {
	desc := new(struct {
		PkgPath string              `json:"pkgPath"`
		Name    string              `json:"name"`
		Data    jsoniter.RawMessage `json:"data"`
	})
	if err := jsoniter.Unmarshal(data, desc); err != nil {
		return nil, errors.Wrap(err, "deserialize descriptor")
	}
	typ := reflect2.TypeByPackageName(desc.PkgPath, desc.Name)
	if typ == nil {
		return nil, errors.Wrapf(ErrUnresolved, "resolve %s.(%s)", desc.PkgPath, desc.Name)
	}
	v := typ.New()
	if err := jsoniter.Unmarshal(desc.Data, v); err != nil {
		return nil, errors.Wrapf(err, "deserialize struct data %s", string(desc.Data))
	}
	return v, nil
}

// RegisterType forces given type into the resolution cache so that
// DeserializeStruct can find it even when nothing else references it.
func RegisterType(v interface{}) interface{} {
	reflect2.TypeOf(v)
	return nil
}
