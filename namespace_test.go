// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package fusion

import "testing"

func TestNamespace(t *testing.T) {
	root := &Namespace{}
	if !root.Root() || root.String() != "" || root.Qualify("x") != "x" {
		t.Errorf("root namespace = %q", root.String())
	}

	r0 := root.Child("R")
	r1 := root.Child("R")
	s0 := r0.Child("S")
	tests := []struct {
		ns   *Namespace
		want string
	}{
		{r0, "R0_"},
		{r1, "R1_"},
		{s0, "R0_S0_"},
		{r0.Child("S"), "R0_S1_"},
	}
	for _, tt := range tests {
		if got := tt.ns.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
	if s0.Parent() != r0 || s0.Local() != "S0" {
		t.Errorf("S0 parent/local = %v/%q", s0.Parent(), s0.Local())
	}
	if got := s0.Qualify("temp0"); got != "R0_S0_temp0" {
		t.Errorf("Qualify = %q", got)
	}
	if p := s0.Path(); len(p) != 2 || p[0] != "R0" || p[1] != "S0" {
		t.Errorf("Path() = %v", p)
	}
}

func TestNestedPrefixesDistinct(t *testing.T) {
	comp, err := New(newTrace(), &dummy{})
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[string]bool)
	for range 3 {
		nested, err := comp.Nested(adder{})
		if err != nil {
			t.Fatal(err)
		}
		prefix := nested.Namespace().String()
		if seen[prefix] {
			t.Errorf("prefix %q assigned twice", prefix)
		}
		seen[prefix] = true
	}
	if !seen["A0_"] || !seen["A2_"] {
		t.Errorf("prefixes = %v, want A0_..A2_", seen)
	}

	inner, err := comp.Nested(&dummy{})
	if err != nil {
		t.Fatal(err)
	}
	deeper, err := inner.Nested(adder{})
	if err != nil {
		t.Fatal(err)
	}
	if got := deeper.Namespace().String(); got != "D3_A0_" {
		t.Errorf("nested-nested prefix = %q, want D3_A0_", got)
	}
}
