package rendering

import (
	"reflect"
	"testing"
)

func TestSanitizeReplacesUndefined(t *testing.T) {
	obj := Object{
		"uuid":  "a1",
		"frame": Undefined,
		"pos":   map[string]any{"x": 1.0, "y": Undefined},
		"tags":  []any{"red", Undefined, nil},
	}

	got := sanitizeObject(obj)

	if got["frame"] != nil {
		t.Errorf("frame = %v, want nil", got["frame"])
	}
	pos, ok := got["pos"].(map[string]any)
	if !ok {
		t.Fatalf("pos converted to %T, want map", got["pos"])
	}
	if pos["y"] != nil {
		t.Errorf("pos.y = %v, want nil", pos["y"])
	}
	tags, ok := got["tags"].([]any)
	if !ok {
		t.Fatalf("tags converted to %T, want slice", got["tags"])
	}
	if tags[1] != nil || tags[2] != nil {
		t.Errorf("tags = %v, want sentinel and null both nil", tags)
	}
}

func TestSanitizeDoesNotModifyInput(t *testing.T) {
	obj := Object{"frame": Undefined}
	sanitizeObject(obj)
	if _, ok := obj["frame"].(UndefinedValue); !ok {
		t.Errorf("input object was modified: frame = %v", obj["frame"])
	}
}

func TestSanitizeObjectsIdempotent(t *testing.T) {
	state := []Object{
		{
			"uuid":        "s1",
			"object_type": ObjectTypeSprite,
			"image_name":  Undefined,
			"nested":      map[string]any{"a": Undefined, "b": []any{Undefined}},
		},
		{
			"uuid":        "t1",
			"object_type": ObjectTypeText,
			"text":        "hello",
		},
	}

	once := SanitizeObjects(state)
	twice := SanitizeObjects(once)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("sanitize is not idempotent:\nonce:  %#v\ntwice: %#v", once, twice)
	}
}

func TestSanitizeNilState(t *testing.T) {
	if got := SanitizeObjects(nil); got != nil {
		t.Errorf("SanitizeObjects(nil) = %v, want nil", got)
	}
}

func TestSanitizeScalarsPassThrough(t *testing.T) {
	cases := []any{"str", 1.5, 7, true, nil}
	for _, c := range cases {
		if got := Sanitize(c); !reflect.DeepEqual(got, c) {
			t.Errorf("Sanitize(%v) = %v, want unchanged", c, got)
		}
	}
}
