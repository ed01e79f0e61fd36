package conn

import (
	"github.com/meoying/mysqlcore/errs"
	"github.com/meoying/mysqlcore/internal/proto"
)

// fieldUnsigned is the column-flags bit marking a declared parameter or
// result column as UNSIGNED.
// https://dev.mysql.com/doc/dev/mysql-server/latest/group__group__cs__column__definition__flags.html
const fieldUnsigned = 0x0020

// BindValues validates and coerces caller-supplied values against stmt's
// declared parameter types, per spec.md §6, before any packet is sent:
// wrong arity fails with TooManyParametersBound/NotEnoughParametersBound,
// and a value that cannot be represented as its target column's type
// fails with InvalidTypeBound.
func BindValues(stmt *Statement, values []proto.Value) ([]proto.BindParam, error) {
	if len(values) > len(stmt.Params) {
		return nil, errs.ErrTooManyParametersBound
	}
	if len(values) < len(stmt.Params) {
		return nil, errs.ErrNotEnoughParametersBound
	}

	binds := make([]proto.BindParam, len(values))
	for i, v := range values {
		param := stmt.Params[i]
		unsigned := param.Flags&fieldUnsigned != 0
		coerced, err := coerceToColumnType(v, param.Type, unsigned)
		if err != nil {
			return nil, err
		}
		binds[i] = proto.BindParam{
			Type:     param.Type,
			Unsigned: unsigned,
			Value:    coerced,
		}
	}
	return binds, nil
}

// coerceToColumnType applies the widening/narrowing rules of spec.md §6
// for a single bound value against its target column's wire type. NULL is
// always accepted; every other mismatch that AsInt64/AsUint64/AsFloat64/
// AsString cannot resolve surfaces as InvalidTypeBound.
func coerceToColumnType(v proto.Value, ft proto.FieldType, unsigned bool) (proto.Value, error) {
	if v.IsNull() {
		return v, nil
	}

	class, _ := ft.Width()
	switch class {
	case proto.WidthFixedInt:
		if unsigned {
			n, err := v.AsUint64()
			if err != nil {
				return proto.Value{}, err
			}
			return proto.UintValue(n), nil
		}
		n, err := v.AsInt64()
		if err != nil {
			return proto.Value{}, err
		}
		return proto.IntValue(n), nil
	case proto.WidthFixedFloat:
		f, err := v.AsFloat64()
		if err != nil {
			return proto.Value{}, err
		}
		return proto.FloatValue(f), nil
	case proto.WidthTemporal:
		if v.Kind != proto.KindTemporal {
			return proto.Value{}, errs.NewInvalidTypeBound(kindNameOf(v), "temporal")
		}
		return v, nil
	default: // WidthLenencString, WidthLenencBytes
		if v.Kind == proto.KindBytes {
			return v, nil
		}
		s, err := v.AsString()
		if err != nil {
			return proto.Value{}, err
		}
		return proto.StringValue(s), nil
	}
}

// kindNameOf mirrors proto.Value's unexported kindName for the one case
// (temporal mismatch) this package must report itself.
func kindNameOf(v proto.Value) string {
	switch v.Kind {
	case proto.KindNull:
		return "null"
	case proto.KindInt:
		return "int"
	case proto.KindUint:
		return "uint"
	case proto.KindFloat:
		return "float"
	case proto.KindString:
		return "string"
	case proto.KindBytes:
		return "bytes"
	case proto.KindTemporal:
		return "temporal"
	default:
		return "unknown"
	}
}
