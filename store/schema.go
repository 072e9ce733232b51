package store

import (
	"fmt"
	"sort"
	"strings"
)

// Kind is the wire type of a field, resolved from its typed name at registration.
type Kind int

const (
	// KindScalar is the fallback for names without a recognised prefix (key
	// fields such as "User_id"). Strings travel as S, numbers as N.
	KindScalar Kind = iota
	KindString
	KindNumber
	KindTime
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "s"
	case KindNumber:
		return "n"
	case KindTime:
		return "dt"
	case KindList:
		return "l"
	case KindMap:
		return "m"
	default:
		return "scalar"
	}
}

// FieldType is the resolved type of a field. Elem is set for lists, Map for maps.
type FieldType struct {
	Kind Kind
	Elem *FieldType
	Map  *MapType
}

func (t *FieldType) String() string {
	switch t.Kind {
	case KindList:
		return "l_" + t.Elem.String()
	default:
		return t.Kind.String()
	}
}

// MapType holds the nested fields of a map attribute.
type MapType struct {
	byTyped  map[string]*Field
	byNative map[string]*Field
}

// Field returns the nested field for a typed name.
func (m *MapType) Field(typed string) (*Field, bool) {
	f, ok := m.byTyped[typed]
	return f, ok
}

// FieldByNative returns the nested field for a native name.
func (m *MapType) FieldByNative(native string) (*Field, bool) {
	f, ok := m.byNative[native]
	return f, ok
}

// Field binds a typed field name to its native attribute name and wire type.
type Field struct {
	Name   string
	Native string
	Type   *FieldType
}

// Definition declares an entity's storage layout. It is compiled once with NewSchema.
type Definition struct {
	// TableName is the logical table; the physical table is TableName_env.
	TableName string

	// Fields maps typed field names to native attribute names.
	Fields map[string]string

	// IDFields lists the partition key and, optionally, the sort key.
	IDFields []string

	// Indexes maps an index name to its key fields.
	Indexes map[string][]string

	// SubObjects maps the typed name of a map field (or a list of maps) to
	// the typed-to-native mapping of its nested fields.
	SubObjects map[string]map[string]string
}

// Schema is an immutable, compiled Definition.
type Schema struct {
	table    string
	fields   map[string]*Field
	byNative map[string]*Field
	ordered  []*Field
	idFields []string
	indexes  map[string][]string
}

// NewSchema validates def and resolves every field's type.
func NewSchema(def Definition) (*Schema, error) {
	const op = "register schema"
	if def.TableName == "" {
		return nil, validationErr(op, "table name is required")
	}
	if len(def.IDFields) == 0 || len(def.IDFields) > 2 {
		return nil, validationErr(op, "one or two id fields are required", def.IDFields...)
	}

	c := &compiler{def: def, resolving: map[string]bool{}}
	s := &Schema{
		table:    def.TableName,
		fields:   make(map[string]*Field, len(def.Fields)),
		byNative: make(map[string]*Field, len(def.Fields)),
		idFields: append([]string(nil), def.IDFields...),
		indexes:  make(map[string][]string, len(def.Indexes)),
	}

	typedNames := make([]string, 0, len(def.Fields))
	for typed := range def.Fields {
		typedNames = append(typedNames, typed)
	}
	sort.Strings(typedNames)

	for _, typed := range typedNames {
		native := def.Fields[typed]
		if native == "" {
			return nil, validationErr(op, "native name is empty", typed)
		}
		if other, dup := s.byNative[native]; dup {
			return nil, validationErr(op, fmt.Sprintf("native name %q is mapped twice", native), other.Name, typed)
		}
		ft, err := c.resolve(typed)
		if err != nil {
			return nil, err
		}
		f := &Field{Name: typed, Native: native, Type: ft}
		s.fields[typed] = f
		s.byNative[native] = f
		s.ordered = append(s.ordered, f)
	}

	for _, id := range def.IDFields {
		f, ok := s.fields[id]
		if !ok {
			return nil, validationErr(op, "id field is not mapped", id)
		}
		if f.Type.Kind == KindList || f.Type.Kind == KindMap {
			return nil, validationErr(op, "id field must be a scalar", id)
		}
	}
	for name, keys := range def.Indexes {
		if len(keys) == 0 || len(keys) > 2 {
			return nil, validationErr(op, fmt.Sprintf("index %q needs one or two key fields", name), keys...)
		}
		for _, k := range keys {
			if _, ok := s.fields[k]; !ok {
				return nil, validationErr(op, fmt.Sprintf("index %q key is not mapped", name), k)
			}
		}
		s.indexes[name] = append([]string(nil), keys...)
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error. Intended for package-level declarations.
func MustSchema(def Definition) *Schema {
	s, err := NewSchema(def)
	if err != nil {
		panic(err)
	}
	return s
}

// TableName returns the logical table name.
func (s *Schema) TableName() string { return s.table }

// PhysicalName returns the table identifier for an environment.
func (s *Schema) PhysicalName(env string) string {
	return s.table + "_" + env
}

// IDFields returns the typed names of the primary key, partition key first.
func (s *Schema) IDFields() []string {
	return append([]string(nil), s.idFields...)
}

// PartitionKey returns the typed name of the partition key.
func (s *Schema) PartitionKey() string { return s.idFields[0] }

// Index returns the key fields of a named index.
func (s *Schema) Index(name string) ([]string, bool) {
	keys, ok := s.indexes[name]
	if !ok {
		return nil, false
	}
	return append([]string(nil), keys...), true
}

// Field looks a field up by typed name.
func (s *Schema) Field(typed string) (*Field, bool) {
	f, ok := s.fields[typed]
	return f, ok
}

// FieldByNative looks a field up by native name.
func (s *Schema) FieldByNative(native string) (*Field, bool) {
	f, ok := s.byNative[native]
	return f, ok
}

// Fields returns all fields ordered by typed name.
func (s *Schema) Fields() []*Field {
	return append([]*Field(nil), s.ordered...)
}

func (s *Schema) isIDField(typed string) bool {
	for _, id := range s.idFields {
		if id == typed {
			return true
		}
	}
	return false
}

// typeTag returns the lowercased prefix before the first separator.
func typeTag(typed string) (tag, rest string) {
	tag, rest, _ = strings.Cut(typed, "_")
	return strings.ToLower(tag), rest
}

type compiler struct {
	def       Definition
	resolving map[string]bool
}

func (c *compiler) resolve(typed string) (*FieldType, error) {
	tag, rest := typeTag(typed)
	switch tag {
	case "s":
		return &FieldType{Kind: KindString}, nil
	case "n":
		return &FieldType{Kind: KindNumber}, nil
	case "dt":
		return &FieldType{Kind: KindTime}, nil
	case "m":
		mt, err := c.resolveMap(typed)
		if err != nil {
			return nil, err
		}
		return &FieldType{Kind: KindMap, Map: mt}, nil
	case "l":
		elem, err := c.resolveElem(typed, rest)
		if err != nil {
			return nil, err
		}
		return &FieldType{Kind: KindList, Elem: elem}, nil
	default:
		return &FieldType{Kind: KindScalar}, nil
	}
}

// resolveElem resolves the element type of list field owner whose name,
// minus the list prefix, is rest. Map elements take their nested mapping
// from the owning list.
func (c *compiler) resolveElem(owner, rest string) (*FieldType, error) {
	elemTag, _ := typeTag(rest)
	switch elemTag {
	case "m":
		mt, err := c.resolveMap(owner)
		if err != nil {
			return nil, err
		}
		return &FieldType{Kind: KindMap, Map: mt}, nil
	case "s", "n", "dt", "l":
		return c.resolve(rest)
	default:
		return nil, validationErr("register schema", fmt.Sprintf("unsupported list element type %q", elemTag), owner)
	}
}

func (c *compiler) resolveMap(owner string) (*MapType, error) {
	const op = "register schema"
	mapping, ok := c.def.SubObjects[owner]
	if !ok {
		return nil, validationErr(op, "map field has no sub-object mapping", owner)
	}
	if c.resolving[owner] {
		return nil, validationErr(op, "sub-object mapping is cyclic", owner)
	}
	c.resolving[owner] = true
	defer delete(c.resolving, owner)

	mt := &MapType{
		byTyped:  make(map[string]*Field, len(mapping)),
		byNative: make(map[string]*Field, len(mapping)),
	}
	for typed, native := range mapping {
		if other, dup := mt.byNative[native]; dup {
			return nil, validationErr(op, fmt.Sprintf("nested native name %q of %s is mapped twice", native, owner), other.Name, typed)
		}
		ft, err := c.resolve(typed)
		if err != nil {
			return nil, err
		}
		f := &Field{Name: typed, Native: native, Type: ft}
		mt.byTyped[typed] = f
		mt.byNative[native] = f
	}
	return mt, nil
}
