// Package host bridges foreign Go values into dynamic dispatch: exported
// struct fields and methods through reflection, protobuf messages through
// their descriptors, and gRPC connections as asynchronous receivers.
package host

import (
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"

	"github.com/funvibe/dynrt/internal/object"
)

// Reflect exposes the exported fields and methods of Go values to dynamic
// member access. Member names are matched as written and then with the
// first letter upper-cased, so "name" finds Name.
type Reflect struct {
	M *Marshaller
}

// NewReflect creates a reflection bridge using m for conversions.
func NewReflect(m *Marshaller) *Reflect {
	return &Reflect{M: m}
}

// GoName maps a member name to the Go identifier it is looked up as.
func GoName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return name
	}
	return string(unicode.ToUpper(r)) + name[size:]
}

// Accepts reports whether v is a value the bridge inspects.
func (b *Reflect) Accepts(v any) bool {
	switch v.(type) {
	case nil, *object.Instance, object.Callable:
		return false
	}
	val := reflect.ValueOf(v)
	if val.NumMethod() > 0 {
		return true
	}
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	return val.Kind() == reflect.Struct
}

// Load reads the member called name on recv. Methods are returned bound to
// recv as Go funcs; the dispatcher invokes them through Marshaller.CallFunc.
func (b *Reflect) Load(recv any, name string) (any, bool, error) {
	if !b.Accepts(recv) {
		return nil, false, nil
	}
	val := reflect.ValueOf(recv)
	for _, n := range candidates(name) {
		if method := val.MethodByName(n); method.IsValid() {
			return method.Interface(), true, nil
		}
	}

	indirect := val
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil, false, nil
		}
		indirect = val.Elem()
	}
	if indirect.Kind() != reflect.Struct {
		return nil, false, nil
	}
	for _, n := range candidates(name) {
		sf, ok := indirect.Type().FieldByName(n)
		if !ok || !sf.IsExported() {
			continue
		}
		return b.M.ToValue(indirect.FieldByIndex(sf.Index).Interface()), true, nil
	}
	return nil, false, nil
}

// Store writes the exported field called name. Only fields reachable
// through a pointer are settable.
func (b *Reflect) Store(recv any, name string, v any) (bool, error) {
	if !b.Accepts(recv) {
		return false, nil
	}
	val := reflect.ValueOf(recv)
	if val.Kind() != reflect.Ptr || val.IsNil() || val.Elem().Kind() != reflect.Struct {
		return false, nil
	}
	indirect := val.Elem()
	for _, n := range candidates(name) {
		sf, ok := indirect.Type().FieldByName(n)
		if !ok || !sf.IsExported() {
			continue
		}
		field := indirect.FieldByIndex(sf.Index)
		if !field.CanSet() {
			return false, nil
		}
		conv, err := b.M.FromValue(v, field.Type())
		if err != nil {
			return true, fmt.Errorf("field %s: %w", sf.Name, err)
		}
		field.Set(conv)
		return true, nil
	}
	return false, nil
}

func candidates(name string) []string {
	if g := GoName(name); g != name {
		return []string{name, g}
	}
	return []string{name}
}
