package driver

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"

	"github.com/dop251/goja"

	"github.com/brazhou04/interactive-gym/internal/rendering"
)

// The converter recognizes exactly three shapes on each side of the
// interpreter boundary: keyed mappings, ordered sequences, and scalars.
// JS undefined becomes the rendering.Undefined sentinel (normalized to nil
// by the sanitization pass); JS null becomes nil directly. Functions cannot
// cross the boundary and degrade to the sentinel.

const maxConvertDepth = 64

var errConvertDepth = errors.New("value nesting exceeds conversion depth limit")

func hostValue(v goja.Value) (any, error) {
	return hostValueDepth(v, 0)
}

func hostValueDepth(v goja.Value, depth int) (any, error) {
	if depth > maxConvertDepth {
		return nil, errConvertDepth
	}
	if v == nil || goja.IsUndefined(v) {
		return rendering.Undefined, nil
	}
	if goja.IsNull(v) {
		return nil, nil
	}
	if _, isFn := goja.AssertFunction(v); isFn {
		return rendering.Undefined, nil
	}
	if obj, ok := v.(*goja.Object); ok {
		if obj.ClassName() == "Array" {
			return hostSlice(obj, depth)
		}
		return hostMap(obj, depth)
	}

	switch v.ExportType().Kind() {
	case reflect.Bool:
		return v.ToBoolean(), nil
	case reflect.String:
		return v.String(), nil
	case reflect.Int, reflect.Int32, reflect.Int64, reflect.Float64:
		return v.ToFloat(), nil
	}
	return v.Export(), nil
}

func hostMap(obj *goja.Object, depth int) (map[string]any, error) {
	keys := obj.Keys()
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		hv, err := hostValueDepth(obj.Get(k), depth+1)
		if err != nil {
			return nil, err
		}
		out[k] = hv
	}
	return out, nil
}

func hostSlice(obj *goja.Object, depth int) ([]any, error) {
	length := toLength(obj)
	out := make([]any, length)
	for i := 0; i < length; i++ {
		hv, err := hostValueDepth(obj.Get(strconv.Itoa(i)), depth+1)
		if err != nil {
			return nil, err
		}
		out[i] = hv
	}
	return out, nil
}

func toLength(obj *goja.Object) int {
	lengthVal := obj.Get("length")
	if lengthVal == nil || goja.IsUndefined(lengthVal) {
		return 0
	}
	return int(lengthVal.ToInteger())
}

// hostAnyMap converts a value that must be a keyed mapping.
func hostAnyMap(v goja.Value, what string) (map[string]any, error) {
	obj, err := mappingObject(v, what)
	if err != nil {
		return nil, err
	}
	return hostMap(obj, 0)
}

// hostFloatMap converts a per-participant numeric mapping (rewards).
func hostFloatMap(v goja.Value, what string) (map[string]float64, error) {
	obj, err := mappingObject(v, what)
	if err != nil {
		return nil, err
	}
	keys := obj.Keys()
	out := make(map[string]float64, len(keys))
	for _, k := range keys {
		out[k] = toFloat64(obj.Get(k))
	}
	return out, nil
}

// hostBoolMap converts a per-participant flag mapping (terminateds, truncateds).
func hostBoolMap(v goja.Value, what string) (map[string]bool, error) {
	obj, err := mappingObject(v, what)
	if err != nil {
		return nil, err
	}
	keys := obj.Keys()
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = toBool(obj.Get(k))
	}
	return out, nil
}

// hostObjects converts a render result: an ordered sequence of descriptors.
func hostObjects(v goja.Value, what string) ([]rendering.Object, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, fmt.Errorf("%s must be an array of objects", what)
	}
	obj, ok := v.(*goja.Object)
	if !ok || obj.ClassName() != "Array" {
		return nil, fmt.Errorf("%s must be an array of objects", what)
	}
	length := toLength(obj)
	out := make([]rendering.Object, 0, length)
	for i := 0; i < length; i++ {
		hv, err := hostValueDepth(obj.Get(strconv.Itoa(i)), 1)
		if err != nil {
			return nil, err
		}
		m, ok := hv.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s element %d is not an object", what, i)
		}
		out = append(out, rendering.Object(m))
	}
	return out, nil
}

func mappingObject(v goja.Value, what string) (*goja.Object, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, fmt.Errorf("%s must be a keyed mapping", what)
	}
	obj, ok := v.(*goja.Object)
	if !ok || obj.ClassName() == "Array" {
		return nil, fmt.Errorf("%s must be a keyed mapping", what)
	}
	return obj, nil
}

func toFloat64(v goja.Value) float64 {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	return v.ToFloat()
}

func toBool(v goja.Value) bool {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return false
	}
	return v.ToBoolean()
}

// interpValue converts a host value into the interpreter's object model.
func interpValue(rt *goja.Runtime, v any) (goja.Value, error) {
	return interpValueDepth(rt, v, 0)
}

func interpValueDepth(rt *goja.Runtime, v any, depth int) (goja.Value, error) {
	if depth > maxConvertDepth {
		return nil, errConvertDepth
	}
	switch t := v.(type) {
	case nil:
		return goja.Null(), nil
	case rendering.UndefinedValue:
		return goja.Undefined(), nil
	case bool, string, int, int32, int64, float32, float64:
		return rt.ToValue(t), nil
	case []any:
		arr := rt.NewArray()
		for i, item := range t {
			jv, err := interpValueDepth(rt, item, depth+1)
			if err != nil {
				return nil, err
			}
			if err := arr.Set(strconv.Itoa(i), jv); err != nil {
				return nil, err
			}
		}
		return arr, nil
	case map[string]any:
		obj := rt.NewObject()
		for k, item := range t {
			jv, err := interpValueDepth(rt, item, depth+1)
			if err != nil {
				return nil, err
			}
			if err := obj.Set(k, jv); err != nil {
				return nil, err
			}
		}
		return obj, nil
	case map[string]float64:
		obj := rt.NewObject()
		for k, item := range t {
			if err := obj.Set(k, rt.ToValue(item)); err != nil {
				return nil, err
			}
		}
		return obj, nil
	case map[string]bool:
		obj := rt.NewObject()
		for k, item := range t {
			if err := obj.Set(k, rt.ToValue(item)); err != nil {
				return nil, err
			}
		}
		return obj, nil
	case rendering.Object:
		return interpValueDepth(rt, map[string]any(t), depth)
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

// interpActions builds the interpreter-side actions object. Participant ids
// are coerced to integers: the environment indexes participants numerically,
// and a non-numeric id is a contract violation rather than a passthrough.
func interpActions(rt *goja.Runtime, actions map[string]any) (*goja.Object, error) {
	ids := make([]string, 0, len(actions))
	for id := range actions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	obj := rt.NewObject()
	for _, id := range ids {
		n, err := strconv.Atoi(id)
		if err != nil {
			return nil, fmt.Errorf("participant id %q is not numeric", id)
		}
		jv, err := interpValue(rt, actions[id])
		if err != nil {
			return nil, fmt.Errorf("action for participant %q: %w", id, err)
		}
		if err := obj.Set(strconv.Itoa(n), jv); err != nil {
			return nil, err
		}
	}
	return obj, nil
}
