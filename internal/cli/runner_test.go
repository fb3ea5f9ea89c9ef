package cli

import (
	"reflect"
	"testing"
)

func TestRunner_LookupAndNames(t *testing.T) {
	r := NewRunner()
	var got []string
	r.RegisterCommand("move-closer", func(args []string) { got = args }, "mcu")
	r.RegisterCommand("candidates", func([]string) {})

	fn, ok := r.Lookup("mcu")
	if !ok {
		t.Fatal("Expected the alias to resolve")
	}
	fn([]string{"Module1", "counter"})
	if !reflect.DeepEqual(got, []string{"Module1", "counter"}) {
		t.Errorf("Expected arguments to be passed through, got %v", got)
	}

	r.Execute("move-closer", []string{"Module2"})
	if !reflect.DeepEqual(got, []string{"Module2"}) {
		t.Errorf("Expected Execute to run the command, got %v", got)
	}

	if _, ok := r.Lookup("rename"); ok {
		t.Error("Expected an unknown command not to resolve")
	}
	if names := r.Names(); !reflect.DeepEqual(names, []string{"candidates", "move-closer"}) {
		t.Errorf("Unexpected names %v", names)
	}
}
