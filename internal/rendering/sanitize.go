package rendering

// UndefinedValue marks a value the interpreter reported as undefined (or one
// that cannot cross the interpreter boundary, like a function). Downstream
// consumers can only represent null, so every occurrence must be normalized
// away by Sanitize before a render state leaves the driver.
type UndefinedValue struct{}

// Undefined is the single sentinel instance used by the value converter.
var Undefined = UndefinedValue{}

func (UndefinedValue) String() string { return "undefined" }

// SanitizeObjects normalizes a full render state. The input is not modified.
func SanitizeObjects(objects []Object) []Object {
	if objects == nil {
		return nil
	}
	out := make([]Object, len(objects))
	for i, obj := range objects {
		out[i] = sanitizeObject(obj)
	}
	return out
}

// Sanitize replaces every undefined sentinel in v with an explicit nil,
// recursing through mappings and sequences. Sanitizing an already-sanitized
// value returns an equal value.
func Sanitize(v any) any {
	switch t := v.(type) {
	case UndefinedValue:
		return nil
	case Object:
		return sanitizeObject(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = Sanitize(item)
		}
		return out
	case []Object:
		return SanitizeObjects(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Sanitize(item)
		}
		return out
	default:
		return v
	}
}

func sanitizeObject(obj Object) Object {
	out := make(Object, len(obj))
	for k, item := range obj {
		out[k] = Sanitize(item)
	}
	return out
}
