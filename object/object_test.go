package object

import "testing"

func TestStringHashKey(t *testing.T) {
	hello1 := &String{Value: "Hello World"}
	hello2 := &String{Value: "Hello World"}
	diff1 := &String{Value: "My name is johnny"}
	diff2 := &String{Value: "My name is johnny"}

	if hello1.HashKey() != hello2.HashKey() {
		t.Errorf("strings with same content have different hash keys")
	}

	if diff1.HashKey() != diff2.HashKey() {
		t.Errorf("strings with same content have different hash keys")
	}

	if hello1.HashKey() == diff1.HashKey() {
		t.Errorf("strings with different content have same hash keys")
	}
}

func TestIntegerHashKey(t *testing.T) {
	one1 := &Integer{Value: 1}
	one2 := &Integer{Value: 1}
	two1 := &Integer{Value: 2}

	if one1.HashKey() != one2.HashKey() {
		t.Errorf("integers with same value have different hash keys")
	}

	if one1.HashKey() == two1.HashKey() {
		t.Errorf("integers with different value have same hash keys")
	}
}

func TestBooleanHashKey(t *testing.T) {
	true1 := &Boolean{Value: true}
	true2 := &Boolean{Value: true}
	false1 := &Boolean{Value: false}

	if true1.HashKey() != true2.HashKey() {
		t.Errorf("booleans with same value have different hash keys")
	}

	if true1.HashKey() == false1.HashKey() {
		t.Errorf("booleans with different value have same hash keys")
	}
}

func TestFloatInspect(t *testing.T) {
	tests := []struct {
		value    float64
		expected string
	}{
		{3.14, "3.14"},
		{2.0, "2"},
		{0.5, "0.5"},
	}

	for _, tt := range tests {
		f := &Float{Value: tt.value}
		if f.Inspect() != tt.expected {
			t.Errorf("wrong inspect output. want=%q, got=%q", tt.expected, f.Inspect())
		}
	}
}

func TestGetBuiltinByName(t *testing.T) {
	if GetBuiltinByName("print") == nil {
		t.Errorf("expected builtin %q to be registered", "print")
	}

	if GetBuiltinByName("len") == nil {
		t.Errorf("expected builtin %q to be registered", "len")
	}

	if GetBuiltinByName("does-not-exist") != nil {
		t.Errorf("expected lookup of unknown builtin to return nil")
	}
}
