package table

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"
)

// ErrUnsupportedValue is returned for cell values with no Kind.
var ErrUnsupportedValue = errors.New("unsupported cell value")

// Canonical converts v to the representation stored in a Table:
// integers become int64, floats float64, lists their JSON encoding, and
// nested maps are converted recursively.
func Canonical(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string, bool, int64, float64:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return float64(x), nil
		}
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return float64(x), nil
		}
		return int64(x), nil
	case float32:
		return float64(x), nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, mv := range x {
			cv, err := Canonical(mv)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = cv
		}
		return out, nil
	case []any:
		b, err := oj.Marshal(x, &ojg.Options{Sort: true})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
		}
		return string(b), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

// KindOf returns the Kind of a canonical, non-nil value.
func KindOf(v any) Kind {
	switch v.(type) {
	case int64:
		return KindInt
	case float64:
		return KindFloat
	case bool:
		return KindBool
	case map[string]any:
		return KindMap
	default:
		return KindString
	}
}

// InferKind returns the kind shared by the non-nil canonical values.
// Int and float mix to float; any other mix is ErrKindConflict.
// A column with no non-nil values is KindString.
func InferKind(values []any) (Kind, error) {
	kind, seen := KindString, false
	for _, v := range values {
		if v == nil {
			continue
		}
		k := KindOf(v)
		switch {
		case !seen:
			kind, seen = k, true
		case k == kind:
		case (k == KindInt && kind == KindFloat) || (k == KindFloat && kind == KindInt):
			kind = KindFloat
		default:
			return kind, fmt.Errorf("%w: %s and %s", ErrKindConflict, kind, k)
		}
	}
	return kind, nil
}

// Key returns a comparable key for a canonical value so that equal values of
// numeric kinds match (int64(5) and float64(5) share a key). Nulls have no key.
func Key(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return "s:" + x, true
	case bool:
		return "b:" + strconv.FormatBool(x), true
	case int64:
		return "n:" + strconv.FormatInt(x, 10), true
	case float64:
		if x == math.Trunc(x) && x >= math.MinInt64 && x <= math.MaxInt64 {
			return "n:" + strconv.FormatInt(int64(x), 10), true
		}
		return "n:" + strconv.FormatFloat(x, 'g', -1, 64), true
	case map[string]any:
		b, err := oj.Marshal(x, &ojg.Options{Sort: true})
		if err != nil {
			return "", false
		}
		return "m:" + string(b), true
	default:
		cv, err := Canonical(v)
		if err != nil || cv == nil {
			return "", false
		}
		return Key(cv)
	}
}
