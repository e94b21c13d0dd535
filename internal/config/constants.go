package config

// ConfigFileNames are the runtime configuration file names, in lookup order.
var ConfigFileNames = []string{"dynrt.yaml", "dynrt.yml"}

// Reserved member names the runtime resolves by convention.
const (
	NoSuchMethodName = "noSuchMethod"
	CallMethodName   = "call"
	ToStringName     = "toString"
	HashCodeName     = "hashCode"
	EqualsName       = "=="
	RuntimeTypeName  = "runtimeType"
)

// Built-in type names
const (
	DynamicTypeName  = "dynamic"
	ObjectTypeName   = "Object"
	NullTypeName     = "Null"
	NeverTypeName    = "Never"
	NumTypeName      = "num"
	IntTypeName      = "int"
	DoubleTypeName   = "double"
	BoolTypeName     = "bool"
	StringTypeName   = "String"
	ListTypeName     = "List"
	MapTypeName      = "Map"
	FunctionTypeName = "Function"
	FutureTypeName   = "Future"
	StreamTypeName   = "Stream"
	IterableTypeName = "Iterable"
)

// ProtoTypePrefix prefixes type descriptors created for protobuf messages.
const ProtoTypePrefix = "proto."
