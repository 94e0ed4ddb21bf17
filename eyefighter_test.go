package eyefighter

import (
	"testing"

	"github.com/neoxapps/eyefighter/pkg/connection"
)

type nopRadio struct {
	connection.Radio
	name string
}

func TestRegistryLongestPrefixWins(t *testing.T) {
	Register("TEST", func(name string) connection.Radio { return nopRadio{name: "short:" + name} })
	Register("TEST-LONG", func(name string) connection.Radio { return nopRadio{name: "long:" + name} })

	tests := []struct {
		device string
		want   string
	}{
		{"TEST-1", "short:TEST-1"},
		{"TEST-LONG-2", "long:TEST-LONG-2"},
	}
	for _, tt := range tests {
		r, err := NewRadioForDevice(tt.device)
		if err != nil {
			t.Fatalf("%s: %v", tt.device, err)
		}
		if got := r.(nopRadio).name; got != tt.want {
			t.Fatalf("%s: got driver %q, want %q", tt.device, got, tt.want)
		}
	}
}

func TestRegistryUnknownDevice(t *testing.T) {
	if _, err := NewRadioForDevice("NOPE-1"); err == nil {
		t.Fatal("expected an error for an unregistered prefix")
	}
}

func TestPrefixes(t *testing.T) {
	Register("TEST-B", func(string) connection.Radio { return nopRadio{} })
	Register("TEST-A", func(string) connection.Radio { return nopRadio{} })

	got := Prefixes()
	ia, ib := -1, -1
	for i, p := range got {
		switch p {
		case "TEST-A":
			ia = i
		case "TEST-B":
			ib = i
		}
	}
	if ia < 0 || ib < 0 || ia > ib {
		t.Fatalf("Prefixes = %v", got)
	}
	if custom := getPrefixes("X"); len(custom) != 1 || custom[0] != "X" {
		t.Fatalf("getPrefixes(X) = %v", custom)
	}
}

func TestMatchPrefix(t *testing.T) {
	if !matchPrefix("LightVISION-2", []string{"MOCK", "LightVISION"}) {
		t.Fatal("expected a match")
	}
	if matchPrefix("Light", []string{"LightVISION"}) {
		t.Fatal("unexpected match")
	}
}
