package types

import "testing"

func TestHighest(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"1"}, "1"},
		{[]string{"2", "10", "9"}, "10"},
		{[]string{"1", "beta"}, "beta"},
		{[]string{"a", "b"}, "b"},
	}
	for _, tc := range cases {
		if got := Highest(tc.in); got != tc.want {
			t.Fatalf("Highest(%v)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsLatest(t *testing.T) {
	for _, v := range []string{"", " ", "latest", "LATEST"} {
		if !IsLatest(v) {
			t.Fatalf("%q should select latest", v)
		}
	}
	if IsLatest("1") {
		t.Fatalf("1 is not latest")
	}
}

func TestModelVariantsDefaultFirst(t *testing.T) {
	m := Model{Networks: map[string][]string{"INT8": nil, DefaultNetwork: nil, "FP16": nil}}
	got := m.Variants()
	want := []string{DefaultNetwork, "FP16", "INT8"}
	if len(got) != len(want) {
		t.Fatalf("variants: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("variants: %v", got)
		}
	}
}
