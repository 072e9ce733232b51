package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Attributes is a native attribute bag keyed by native attribute name.
//
// Decoded values are string, int64, float64, time.Time, []any or map[string]any.
type Attributes map[string]any

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

var timeType = reflect.TypeOf(time.Time{})

// Encode converts a native value to its wire form using the field's resolved type.
func (s *Schema) Encode(typed string, v any) (types.AttributeValue, error) {
	f, ok := s.fields[typed]
	if !ok {
		return nil, encodingErr(typed, "unknown", "field is not part of table %s", s.table)
	}
	return EncodeField(f, v)
}

// Decode converts a wire attribute to its native value using the field's resolved type.
func (s *Schema) Decode(typed string, av types.AttributeValue) (any, error) {
	f, ok := s.fields[typed]
	if !ok {
		return nil, encodingErr(typed, "unknown", "field is not part of table %s", s.table)
	}
	return DecodeField(f, av)
}

// EncodeField encodes v for field f.
func EncodeField(f *Field, v any) (types.AttributeValue, error) {
	return encodeValue(f.Name, f.Type, v)
}

// DecodeField decodes av for field f.
func DecodeField(f *Field, av types.AttributeValue) (any, error) {
	return decodeValue(f.Name, f.Type, av)
}

func encodeValue(name string, t *FieldType, v any) (types.AttributeValue, error) {
	switch t.Kind {
	case KindString:
		rv := reflect.ValueOf(v)
		if !rv.IsValid() || rv.Kind() != reflect.String {
			return nil, encodingErr(name, t.String(), "expected a string, got %T", v)
		}
		return &types.AttributeValueMemberS{Value: rv.String()}, nil

	case KindNumber:
		n, err := formatNumber(v)
		if err != nil {
			return nil, &EncodingError{Field: name, Type: t.String(), Err: err}
		}
		return &types.AttributeValueMemberN{Value: n}, nil

	case KindTime:
		tm, ok := asTime(v)
		if !ok {
			return nil, encodingErr(name, t.String(), "expected a time.Time, got %T", v)
		}
		return &types.AttributeValueMemberS{Value: tm.Format(time.RFC3339Nano)}, nil

	case KindList:
		rv := reflect.ValueOf(v)
		if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
			return nil, encodingErr(name, t.String(), "expected a list, got %T", v)
		}
		list := make([]types.AttributeValue, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem, err := encodeValue(name, t.Elem, rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			list = append(list, elem)
		}
		return &types.AttributeValueMemberL{Value: list}, nil

	case KindMap:
		rv := reflect.ValueOf(v)
		if !rv.IsValid() || rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
			return nil, encodingErr(name, t.String(), "expected a map with string keys, got %T", v)
		}
		m := make(map[string]types.AttributeValue, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			native := iter.Key().String()
			nested, ok := t.Map.byNative[native]
			if !ok {
				return nil, encodingErr(name, t.String(), "nested field %q is not mapped", native)
			}
			av, err := encodeValue(nested.Name, nested.Type, iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			m[nested.Name] = av
		}
		return &types.AttributeValueMemberM{Value: m}, nil

	default:
		return wrapScalar(name, v)
	}
}

// wrapScalar encodes a value for a field without a recognised type prefix.
// Numbers go through formatNumber so whole floats keep their decimal point.
func wrapScalar(name string, v any) (types.AttributeValue, error) {
	if isNumber(v) {
		n, err := formatNumber(v)
		if err != nil {
			return nil, &EncodingError{Field: name, Type: KindScalar.String(), Err: err}
		}
		return &types.AttributeValueMemberN{Value: n}, nil
	}
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return nil, &EncodingError{Field: name, Type: KindScalar.String(), Err: err}
	}
	if _, ok := av.(*types.AttributeValueMemberS); ok {
		return av, nil
	}
	return nil, encodingErr(name, KindScalar.String(), "unsupported scalar %T", v)
}

func isNumber(v any) bool {
	if _, ok := v.(json.Number); ok {
		return true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return false
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func decodeValue(name string, t *FieldType, av types.AttributeValue) (any, error) {
	switch t.Kind {
	case KindString:
		s, ok := av.(*types.AttributeValueMemberS)
		if !ok {
			return nil, wireMismatch(name, t, av)
		}
		return s.Value, nil

	case KindNumber:
		n, ok := av.(*types.AttributeValueMemberN)
		if !ok {
			return nil, wireMismatch(name, t, av)
		}
		v, err := parseNumber(n.Value)
		if err != nil {
			return nil, &EncodingError{Field: name, Type: t.String(), Err: err}
		}
		return v, nil

	case KindTime:
		s, ok := av.(*types.AttributeValueMemberS)
		if !ok {
			return nil, wireMismatch(name, t, av)
		}
		tm, err := parseTime(s.Value)
		if err != nil {
			return nil, &EncodingError{Field: name, Type: t.String(), Err: err}
		}
		return tm, nil

	case KindList:
		l, ok := av.(*types.AttributeValueMemberL)
		if !ok {
			return nil, wireMismatch(name, t, av)
		}
		out := make([]any, 0, len(l.Value))
		for _, elem := range l.Value {
			v, err := decodeValue(name, t.Elem, elem)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case KindMap:
		m, ok := av.(*types.AttributeValueMemberM)
		if !ok {
			return nil, wireMismatch(name, t, av)
		}
		out := make(map[string]any, len(m.Value))
		for typed, nestedAV := range m.Value {
			nested, ok := t.Map.byTyped[typed]
			if !ok {
				return nil, encodingErr(name, t.String(), "nested field %q is not mapped", typed)
			}
			v, err := decodeValue(nested.Name, nested.Type, nestedAV)
			if err != nil {
				return nil, err
			}
			out[nested.Native] = v
		}
		return out, nil

	default:
		switch v := av.(type) {
		case *types.AttributeValueMemberS:
			return v.Value, nil
		case *types.AttributeValueMemberN:
			n, err := parseNumber(v.Value)
			if err != nil {
				return nil, &EncodingError{Field: name, Type: t.String(), Err: err}
			}
			return n, nil
		}
		return nil, wireMismatch(name, t, av)
	}
}

func wireMismatch(name string, t *FieldType, av types.AttributeValue) error {
	return encodingErr(name, t.String(), "unsupported wire type %s", wireKind(av))
}

func wireKind(av types.AttributeValue) string {
	switch av.(type) {
	case *types.AttributeValueMemberS:
		return "S"
	case *types.AttributeValueMemberN:
		return "N"
	case *types.AttributeValueMemberB:
		return "B"
	case *types.AttributeValueMemberBOOL:
		return "BOOL"
	case *types.AttributeValueMemberNULL:
		return "NULL"
	case *types.AttributeValueMemberL:
		return "L"
	case *types.AttributeValueMemberM:
		return "M"
	case *types.AttributeValueMemberSS:
		return "SS"
	case *types.AttributeValueMemberNS:
		return "NS"
	case *types.AttributeValueMemberBS:
		return "BS"
	case nil:
		return "<nil>"
	default:
		return fmt.Sprintf("%T", av)
	}
}

// formatNumber renders a Go number in DynamoDB's N form. Floats keep a
// decimal point so that they decode back as floats.
func formatNumber(v any) (string, error) {
	if n, ok := v.(json.Number); ok {
		if _, err := parseNumber(n.String()); err != nil {
			return "", err
		}
		return n.String(), nil
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return "", errors.New("number is nil")
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return "", fmt.Errorf("%v is not representable", f)
		}
		s := strconv.FormatFloat(f, 'g', -1, rv.Type().Bits())
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s, nil
	case reflect.String:
		if _, err := parseNumber(rv.String()); err != nil {
			return "", err
		}
		return rv.String(), nil
	}
	return "", fmt.Errorf("expected a number, got %T", v)
}

// parseNumber tries an integer parse first, then a floating-point one.
func parseNumber(s string) (any, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("cannot convert %q to int or float", s)
	}
	return f, nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as ISO-8601", s)
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	}
	rv := reflect.ValueOf(v)
	if rv.IsValid() && rv.Type().ConvertibleTo(timeType) {
		return rv.Convert(timeType).Interface().(time.Time), true
	}
	return time.Time{}, false
}
