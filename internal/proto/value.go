package proto

import (
	"strconv"
	"time"

	"github.com/ecodeclub/ekit"

	"github.com/meoying/mysqlcore/errs"
)

// ValueKind tags the variant carried by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindInt
	KindUint
	KindFloat
	KindString
	KindBytes
	KindTemporal
)

// Value is a single column value, as described in spec.md §3: a tagged
// variant produced by the text or binary row decoder. Text-protocol rows
// always produce KindString; binary-protocol rows decode per column type.
type Value struct {
	Kind     ValueKind
	Int      int64
	Uint     uint64
	Float    float64
	String   string
	Bytes    []byte
	Temporal time.Time
}

// NullValue is the canonical SQL NULL.
var NullValue = Value{Kind: KindNull}

func IntValue(v int64) Value       { return Value{Kind: KindInt, Int: v} }
func UintValue(v uint64) Value     { return Value{Kind: KindUint, Uint: v} }
func FloatValue(v float64) Value   { return Value{Kind: KindFloat, Float: v} }
func StringValue(v string) Value   { return Value{Kind: KindString, String: v} }
func BytesValue(v []byte) Value    { return Value{Kind: KindBytes, Bytes: v} }
func TemporalValue(v time.Time) Value { return Value{Kind: KindTemporal, Temporal: v} }

// kindName renders a Value's kind for InvalidTypeBound error messages.
func (v Value) kindName() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindTemporal:
		return "temporal"
	default:
		return "unknown"
	}
}

// any returns the Go value ekit.AnyValue should wrap for conversion.
func (v Value) any() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindInt:
		return v.Int
	case KindUint:
		return v.Uint
	case KindFloat:
		return v.Float
	case KindString:
		return v.String
	case KindBytes:
		return v.Bytes
	case KindTemporal:
		return v.Temporal
	default:
		return nil
	}
}

// AsInt64 widens/narrows v to int64, following spec.md §6:
// integer->integer if representable, string->integer by strict parse,
// else InvalidTypeBound.
func (v Value) AsInt64() (int64, error) {
	switch v.Kind {
	case KindInt:
		return v.Int, nil
	case KindUint:
		if v.Uint > 1<<63-1 {
			return 0, errs.NewInvalidTypeBound(v.kindName(), "int")
		}
		return int64(v.Uint), nil
	case KindString:
		n, err := ekit.AnyValue{Val: v.String}.Int64()
		if err != nil {
			return 0, errs.NewInvalidTypeBound(v.kindName(), "int")
		}
		return n, nil
	default:
		return 0, errs.NewInvalidTypeBound(v.kindName(), "int")
	}
}

// AsUint64 widens/narrows v to uint64.
func (v Value) AsUint64() (uint64, error) {
	switch v.Kind {
	case KindUint:
		return v.Uint, nil
	case KindInt:
		if v.Int < 0 {
			return 0, errs.NewInvalidTypeBound(v.kindName(), "uint")
		}
		return uint64(v.Int), nil
	case KindString:
		n, err := ekit.AnyValue{Val: v.String}.Uint64()
		if err != nil {
			return 0, errs.NewInvalidTypeBound(v.kindName(), "uint")
		}
		return n, nil
	default:
		return 0, errs.NewInvalidTypeBound(v.kindName(), "uint")
	}
}

// AsFloat64 widens v to float64.
func (v Value) AsFloat64() (float64, error) {
	switch v.Kind {
	case KindFloat:
		return v.Float, nil
	case KindInt:
		return float64(v.Int), nil
	case KindUint:
		return float64(v.Uint), nil
	case KindString:
		f, err := ekit.AnyValue{Val: v.String}.Float64()
		if err != nil {
			return 0, errs.NewInvalidTypeBound(v.kindName(), "float")
		}
		return f, nil
	default:
		return 0, errs.NewInvalidTypeBound(v.kindName(), "float")
	}
}

// AsString renders v as text: integer->string via decimal, as spec.md §6
// requires.
func (v Value) AsString() (string, error) {
	switch v.Kind {
	case KindString:
		return v.String, nil
	case KindBytes:
		return string(v.Bytes), nil
	case KindInt:
		return strconv.FormatInt(v.Int, 10), nil
	case KindUint:
		return strconv.FormatUint(v.Uint, 10), nil
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64), nil
	default:
		return "", errs.NewInvalidTypeBound(v.kindName(), "string")
	}
}

// IsNull reports whether v is SQL NULL.
func (v Value) IsNull() bool {
	return v.Kind == KindNull
}
