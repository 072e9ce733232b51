package store

import (
	"reflect"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// MetaAttribute is skipped when flattening raw items.
const MetaAttribute = "_meta"

// Flatten decodes a raw item into native attributes keyed by native name.
func (s *Schema) Flatten(raw map[string]types.AttributeValue) (Attributes, error) {
	out := make(Attributes, len(raw))
	for typed, av := range raw {
		if typed == MetaAttribute {
			continue
		}
		f, ok := s.fields[typed]
		if !ok {
			return nil, encodingErr(typed, "unknown", "attribute is not part of table %s", s.table)
		}
		v, err := DecodeField(f, av)
		if err != nil {
			return nil, err
		}
		out[f.Native] = v
	}
	return out, nil
}

// FlattenAll flattens raw items, preserving their order.
func (s *Schema) FlattenAll(raws []map[string]types.AttributeValue) ([]Attributes, error) {
	out := make([]Attributes, 0, len(raws))
	for _, raw := range raws {
		item, err := s.Flatten(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// Prepare encodes native attributes into a full item. Empty values are
// omitted rather than written.
func (s *Schema) Prepare(attrs Attributes) (map[string]types.AttributeValue, error) {
	item := make(map[string]types.AttributeValue, len(attrs))
	for native, v := range attrs {
		f, ok := s.byNative[native]
		if !ok {
			return nil, validationErr("prepare item", "field is not part of table "+s.table, native)
		}
		if isEmpty(v) {
			continue
		}
		av, err := EncodeField(f, v)
		if err != nil {
			return nil, err
		}
		item[f.Name] = av
	}
	return item, nil
}

// Key builds the primary key of the item described by attrs. Every id field must be set.
func (s *Schema) Key(attrs Attributes) (map[string]types.AttributeValue, error) {
	if missing := s.missing(attrs, s.idFields); len(missing) > 0 {
		return nil, validationErr("build key", "all id fields are required", missing...)
	}
	key := make(map[string]types.AttributeValue, len(s.idFields))
	for _, id := range s.idFields {
		f := s.fields[id]
		av, err := EncodeField(f, attrs[f.Native])
		if err != nil {
			return nil, err
		}
		key[id] = av
	}
	return key, nil
}

// missing returns the native names of typed fields absent or empty in attrs.
func (s *Schema) missing(attrs Attributes, typed []string) []string {
	var out []string
	for _, name := range typed {
		native := s.fields[name].Native
		if v, ok := attrs[native]; !ok || isEmpty(v) {
			out = append(out, native)
		}
	}
	return out
}

// isEmpty reports whether v carries no data: nil, "", an empty list or
// map, or the zero time. Numeric zero is data.
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if t, ok := v.(time.Time); ok {
		return t.IsZero()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// contains reports whether every filter is present in item with an equal value.
func contains(item, filters Attributes) bool {
	for k, want := range filters {
		got, ok := item[k]
		if !ok || !valuesEqual(want, got) {
			return false
		}
	}
	return true
}

// valuesEqual compares native values loosely: numbers by value across
// kinds, times by instant, lists and maps element-wise.
func valuesEqual(a, b any) bool {
	if ta, ok := asTime(a); ok {
		tb, ok := asTime(b)
		return ok && ta.Equal(tb)
	}
	if na, ok := numberValue(a); ok {
		nb, ok := numberValue(b)
		return ok && na == nb
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if !ra.IsValid() || !rb.IsValid() {
		return !ra.IsValid() && !rb.IsValid()
	}
	switch ra.Kind() {
	case reflect.String:
		return rb.Kind() == reflect.String && ra.String() == rb.String()
	case reflect.Slice, reflect.Array:
		if (rb.Kind() != reflect.Slice && rb.Kind() != reflect.Array) || ra.Len() != rb.Len() {
			return false
		}
		for i := 0; i < ra.Len(); i++ {
			if !valuesEqual(ra.Index(i).Interface(), rb.Index(i).Interface()) {
				return false
			}
		}
		return true
	case reflect.Map:
		if rb.Kind() != reflect.Map || ra.Len() != rb.Len() {
			return false
		}
		keyType := rb.Type().Key()
		if !ra.Type().Key().ConvertibleTo(keyType) {
			return false
		}
		iter := ra.MapRange()
		for iter.Next() {
			other := rb.MapIndex(iter.Key().Convert(keyType))
			if !other.IsValid() || !valuesEqual(iter.Value().Interface(), other.Interface()) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func numberValue(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return 0, false
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
