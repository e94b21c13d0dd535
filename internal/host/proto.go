package host

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"github.com/jhump/protoreflect/dynamic"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/funvibe/dynrt/internal/config"
	"github.com/funvibe/dynrt/internal/diagnostics"
	"github.com/funvibe/dynrt/internal/extension"
	"github.com/funvibe/dynrt/internal/object"
	"github.com/funvibe/dynrt/internal/typesystem"
)

// KindMessage is the extension kind of protobuf messages.
const KindMessage extension.Kind = "Message"

// ProtoRegistry holds descriptors parsed from .proto files. Messages built
// from it are foreign receivers whose fields load and store by name.
type ProtoRegistry struct {
	mu       sync.RWMutex
	files    map[string]*desc.FileDescriptor
	messages map[string]*desc.MessageDescriptor
	services map[string]*desc.ServiceDescriptor
	types    map[string]*typesystem.Type
}

// NewProtoRegistry creates an empty registry. Fill it with LoadFiles or
// LoadSources.
func NewProtoRegistry() *ProtoRegistry {
	return &ProtoRegistry{
		files:    make(map[string]*desc.FileDescriptor),
		messages: make(map[string]*desc.MessageDescriptor),
		services: make(map[string]*desc.ServiceDescriptor),
		types:    make(map[string]*typesystem.Type),
	}
}

// LoadFiles parses files, resolving imports against importPaths.
func (p *ProtoRegistry) LoadFiles(importPaths []string, files ...string) error {
	parser := protoparse.Parser{ImportPaths: importPaths}
	return p.parse(parser, files)
}

// LoadSources parses in-memory sources keyed by file name.
func (p *ProtoRegistry) LoadSources(sources map[string]string, files ...string) error {
	parser := protoparse.Parser{Accessor: protoparse.FileContentsFromMap(sources)}
	return p.parse(parser, files)
}

func (p *ProtoRegistry) parse(parser protoparse.Parser, files []string) error {
	if len(files) == 0 {
		return nil
	}
	fds, err := parser.ParseFiles(files...)
	if err != nil {
		return fmt.Errorf("failed to parse proto: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, fd := range fds {
		p.addFile(fd)
	}
	return nil
}

func (p *ProtoRegistry) addFile(fd *desc.FileDescriptor) {
	if _, ok := p.files[fd.GetName()]; ok {
		return
	}
	p.files[fd.GetName()] = fd
	for _, dep := range fd.GetDependencies() {
		p.addFile(dep)
	}
	for _, md := range fd.GetMessageTypes() {
		p.addMessage(md)
	}
	for _, sd := range fd.GetServices() {
		p.services[sd.GetFullyQualifiedName()] = sd
	}
}

// addMessage indexes md and its nested types. Synthetic map entry types
// are not user-visible messages and are skipped.
func (p *ProtoRegistry) addMessage(md *desc.MessageDescriptor) {
	if md.IsMapEntry() {
		return
	}
	p.messages[md.GetFullyQualifiedName()] = md
	for _, nested := range md.GetNestedMessageTypes() {
		p.addMessage(nested)
	}
}

// Message returns the descriptor of the message type with the given full
// name.
func (p *ProtoRegistry) Message(name string) (*desc.MessageDescriptor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if md, ok := p.messages[strings.TrimPrefix(name, ".")]; ok {
		return md, nil
	}
	return nil, fmt.Errorf("message type %q not found", name)
}

// Method resolves "package.Service/Method", with or without a leading "/".
func (p *ProtoRegistry) Method(path string) (*desc.MethodDescriptor, error) {
	path = strings.TrimPrefix(path, "/")
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return nil, fmt.Errorf("invalid method path %q, expected 'package.Service/Method'", path)
	}
	p.mu.RLock()
	sd, ok := p.services[path[:i]]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("service %q not found (did you load the proto?)", path[:i])
	}
	md := sd.FindMethodByName(path[i+1:])
	if md == nil {
		return nil, fmt.Errorf("method %q not found in service %s", path[i+1:], path[:i])
	}
	return md, nil
}

// Service returns the descriptor of a service by full name.
func (p *ProtoRegistry) Service(name string) (*desc.ServiceDescriptor, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sd, ok := p.services[name]
	return sd, ok
}

// MessageNames lists loaded message types, sorted.
func (p *ProtoRegistry) MessageNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.messages))
	for n := range p.messages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ServiceNames lists loaded services, sorted.
func (p *ProtoRegistry) ServiceNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.services))
	for n := range p.services {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewMessage creates a message of the named type populated from fields.
func (p *ProtoRegistry) NewMessage(name string, fields map[string]any) (*dynamic.Message, error) {
	md, err := p.Message(name)
	if err != nil {
		return nil, err
	}
	return ToMessage(md, fields)
}

// Decode parses the wire encoding of a message of the named type.
func (p *ProtoRegistry) Decode(name string, data []byte) (*dynamic.Message, error) {
	md, err := p.Message(name)
	if err != nil {
		return nil, err
	}
	msg := dynamic.NewMessage(md)
	if err := msg.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return msg, nil
}

// Bind registers a canonical type descriptor "proto.<FullName>" for every
// loaded message and teaches reg to recognize messages.
func (p *ProtoRegistry) Bind(reg *typesystem.Registry) error {
	p.mu.Lock()
	for name := range p.messages {
		if _, ok := p.types[name]; ok {
			continue
		}
		t, err := reg.Named(config.ProtoTypePrefix+name, typesystem.Object)
		if err != nil {
			p.mu.Unlock()
			return err
		}
		reg.Seal(t)
		p.types[name] = t
	}
	p.mu.Unlock()
	return reg.AddResolver(p.typeOf)
}

func (p *ProtoRegistry) typeOf(v any) *typesystem.Type {
	msg, ok := v.(*dynamic.Message)
	if !ok {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.types[msg.GetMessageDescriptor().GetFullyQualifiedName()]
}

// Install registers the Message extension kind and its members.
func (p *ProtoRegistry) Install(t *extension.Table) error {
	err := t.DefineKind(KindMessage, extension.KindObject, func(v any) (extension.Kind, bool) {
		_, ok := v.(*dynamic.Message)
		return KindMessage, ok
	})
	if err != nil {
		return err
	}
	msgOf := func(c *extension.Call) *dynamic.Message { return c.Recv.(*dynamic.Message) }
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	add(t.Getter(KindMessage, "fullName", func(c *extension.Call) (any, error) {
		return msgOf(c).GetMessageDescriptor().GetFullyQualifiedName(), nil
	}))
	add(t.Method(KindMessage, "encode", object.Signature{}, func(c *extension.Call) (any, error) {
		return msgOf(c).Marshal()
	}))
	add(t.Method(KindMessage, "toMap", object.Signature{}, func(c *extension.Call) (any, error) {
		return MessageToMap(msgOf(c)), nil
	}))
	add(t.Method(KindMessage, "toJson", object.Signature{}, func(c *extension.Call) (any, error) {
		b, err := msgOf(c).MarshalJSON()
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}))
	add(t.Method(KindMessage, "has", object.Params("field"), func(c *extension.Call) (any, error) {
		msg := msgOf(c)
		name, _ := c.Arg(0).(string)
		fd := findField(msg.GetMessageDescriptor(), name)
		if fd == nil {
			return nil, diagnostics.NewNoSuchMethod(msg, name)
		}
		return msg.HasField(fd), nil
	}))
	add(t.Method(KindMessage, "clear", object.Params("field"), func(c *extension.Call) (any, error) {
		msg := msgOf(c)
		name, _ := c.Arg(0).(string)
		fd := findField(msg.GetMessageDescriptor(), name)
		if fd == nil {
			return nil, diagnostics.NewNoSuchMethod(msg, name)
		}
		msg.ClearField(fd)
		return nil, nil
	}))
	return errors.Join(errs...)
}

func findField(md *desc.MessageDescriptor, name string) *desc.FieldDescriptor {
	if fd := md.FindFieldByName(name); fd != nil {
		return fd
	}
	return md.FindFieldByJSONName(name)
}

// Load reads a message field by proto or JSON name.
func (p *ProtoRegistry) Load(recv any, name string) (any, bool, error) {
	msg, ok := recv.(*dynamic.Message)
	if !ok {
		return nil, false, nil
	}
	fd := findField(msg.GetMessageDescriptor(), name)
	if fd == nil {
		return nil, false, nil
	}
	v, err := msg.TryGetField(fd)
	if err != nil {
		return nil, true, err
	}
	return fromProtoValue(fd, v, false), true, nil
}

// Store writes a message field by proto or JSON name.
func (p *ProtoRegistry) Store(recv any, name string, v any) (bool, error) {
	msg, ok := recv.(*dynamic.Message)
	if !ok {
		return false, nil
	}
	fd := findField(msg.GetMessageDescriptor(), name)
	if fd == nil {
		return false, nil
	}
	if v == nil {
		msg.ClearField(fd)
		return true, nil
	}
	pv, err := toProtoValue(fd, v)
	if err != nil {
		return true, err
	}
	return true, msg.TrySetField(fd, pv)
}

// ToMessage builds a message of type md from a string-keyed map, a
// message of the same type, or nil. Unknown keys are ignored.
func ToMessage(md *desc.MessageDescriptor, v any) (*dynamic.Message, error) {
	msg := dynamic.NewMessage(md)
	var fields map[string]any
	switch val := v.(type) {
	case nil:
		return msg, nil
	case *dynamic.Message:
		if val.GetMessageDescriptor().GetFullyQualifiedName() == md.GetFullyQualifiedName() {
			return val, nil
		}
		return nil, castTo(md, v)
	case map[string]any:
		fields = val
	case map[any]any:
		fields = make(map[string]any, len(val))
		for k, fv := range val {
			ks, ok := k.(string)
			if !ok {
				return nil, castTo(md, v)
			}
			fields[ks] = fv
		}
	default:
		return nil, castTo(md, v)
	}

	for name, fv := range fields {
		fd := findField(md, name)
		if fd == nil || fv == nil {
			continue
		}
		pv, err := toProtoValue(fd, fv)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		if err := msg.TrySetField(fd, pv); err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
	}
	return msg, nil
}

func castTo(md *desc.MessageDescriptor, v any) error {
	return &diagnostics.CastError{
		Value:    v,
		Actual:   fmt.Sprintf("%T", v),
		Expected: config.ProtoTypePrefix + md.GetFullyQualifiedName(),
	}
}

// MessageToMap converts a message, nested messages included, to
// map[string]any keyed by proto field name. Unset fields carry their
// defaults.
func MessageToMap(msg *dynamic.Message) map[string]any {
	out := make(map[string]any)
	for _, fd := range msg.GetMessageDescriptor().GetFields() {
		v, err := msg.TryGetField(fd)
		if err != nil {
			continue
		}
		out[fd.GetName()] = fromProtoValue(fd, v, true)
	}
	return out
}

func toProtoValue(fd *desc.FieldDescriptor, v any) (any, error) {
	if fd.IsMap() {
		out := make(map[any]any)
		put := func(k, val any) error {
			pk, err := toProtoSingle(fd.GetMapKeyType(), k)
			if err != nil {
				return err
			}
			pv, err := toProtoSingle(fd.GetMapValueType(), val)
			if err != nil {
				return err
			}
			out[pk] = pv
			return nil
		}
		switch m := v.(type) {
		case map[string]any:
			for k, val := range m {
				if err := put(k, val); err != nil {
					return nil, err
				}
			}
		case map[any]any:
			for k, val := range m {
				if err := put(k, val); err != nil {
					return nil, err
				}
			}
		default:
			return nil, fmt.Errorf("expected Map for map field, got %T", v)
		}
		return out, nil
	}
	if fd.IsRepeated() {
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("expected List for repeated field, got %T", v)
		}
		out := make([]any, 0, len(list))
		for _, item := range list {
			pv, err := toProtoSingle(fd, item)
			if err != nil {
				return nil, err
			}
			out = append(out, pv)
		}
		return out, nil
	}
	return toProtoSingle(fd, v)
}

func toProtoSingle(fd *desc.FieldDescriptor, v any) (any, error) {
	i, isInt := extension.AsInt(v)
	switch fd.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_INT32, descriptorpb.FieldDescriptorProto_TYPE_SINT32, descriptorpb.FieldDescriptorProto_TYPE_SFIXED32:
		if isInt {
			return int32(i), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_INT64, descriptorpb.FieldDescriptorProto_TYPE_SINT64, descriptorpb.FieldDescriptorProto_TYPE_SFIXED64:
		if isInt {
			return int64(i), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_UINT32, descriptorpb.FieldDescriptorProto_TYPE_FIXED32:
		if isInt {
			return uint32(i), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_UINT64, descriptorpb.FieldDescriptorProto_TYPE_FIXED64:
		if isInt {
			return uint64(i), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_FLOAT:
		if f, ok := extension.AsFloat(v); ok {
			return float32(f), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_DOUBLE:
		if f, ok := extension.AsFloat(v); ok {
			return f, nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_BOOL:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_STRING:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_BYTES:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_MESSAGE:
		return ToMessage(fd.GetMessageType(), v)
	case descriptorpb.FieldDescriptorProto_TYPE_ENUM:
		if isInt {
			return int32(i), nil
		}
		if s, ok := v.(string); ok {
			if ev := fd.GetEnumType().FindValueByName(s); ev != nil {
				return ev.GetNumber(), nil
			}
			return nil, fmt.Errorf("enum %s has no value %q", fd.GetEnumType().GetName(), s)
		}
	}
	return nil, &diagnostics.CastError{
		Value:    v,
		Actual:   fmt.Sprintf("%T", v),
		Expected: strings.ToLower(strings.TrimPrefix(fd.GetType().String(), "TYPE_")),
	}
}

// fromProtoValue converts a field value to a runtime value. With deep set,
// nested messages become maps as well.
func fromProtoValue(fd *desc.FieldDescriptor, v any, deep bool) any {
	if fd.IsMap() {
		m, _ := v.(map[any]any)
		if fd.GetMapKeyType().GetType() == descriptorpb.FieldDescriptorProto_TYPE_STRING {
			out := make(map[string]any, len(m))
			for k, val := range m {
				out[k.(string)] = fromProtoSingle(fd.GetMapValueType(), val, deep)
			}
			return out
		}
		out := make(map[any]any, len(m))
		for k, val := range m {
			out[fromProtoSingle(fd.GetMapKeyType(), k, deep)] = fromProtoSingle(fd.GetMapValueType(), val, deep)
		}
		return out
	}
	if fd.IsRepeated() {
		slice, _ := v.([]any)
		out := make([]any, len(slice))
		for i, item := range slice {
			out[i] = fromProtoSingle(fd, item, deep)
		}
		return out
	}
	return fromProtoSingle(fd, v, deep)
}

func fromProtoSingle(fd *desc.FieldDescriptor, v any, deep bool) any {
	switch val := v.(type) {
	case int32:
		return int(val)
	case int64:
		return int(val)
	case uint32:
		return int(val)
	case uint64:
		return uintValue(val)
	case float32:
		return float64(val)
	case *dynamic.Message:
		if deep {
			return MessageToMap(val)
		}
		return val
	}
	return v
}
