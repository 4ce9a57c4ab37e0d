package script

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateAccepts(t *testing.T) {
	scripts := []string{
		`1 + 1`,
		`var x = 0; for (var i = 0; i < 10; i++) { x += i; } x`,
		`function helper(a) { return a * 2; } helper(21)`,
		`var f = function (a) { return a; }; f(1)`,
		`var g = (a) => a + 1; g(2)`,
		`var obj = { name: "x", run: function () { return 1; } }; obj.run()`,
		`try { JSON.parse("{") } catch (e) { "caught" }`,
	}
	for _, src := range scripts {
		if err := Validate(src); err != nil {
			t.Errorf("Validate(%q) = %v, want accepted", src, err)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantMsg string
	}{
		{"eval call", `eval("1+1")`, "dynamic code evaluation"},
		{"eval reference", `var e = eval; e("1")`, "dynamic code evaluation"},
		{"Function constructor", `new Function("return 1")()`, "Function constructor"},
		{"require", `var fs = require("fs")`, "module loading"},
		{"importScripts", `importScripts("x.js")`, "module loading"},
		{"class declaration", `class Job {}`, "class declarations"},
		{"class expression", `var C = class {}`, "class declarations"},
		{"async function", `async function f() { return 1; }`, "async functions"},
		{"async arrow", `var f = async () => 1`, "async functions"},
		{"parse error", `var (`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.src)
			if err == nil {
				t.Fatalf("Validate(%q) accepted, want rejection", tt.src)
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("error %v is not ErrValidation", err)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestValidateNestedConstructs(t *testing.T) {
	// Banned constructs buried inside functions and control flow are
	// still found.
	scripts := []string{
		`function outer() { function inner() { return eval("1"); } }`,
		`var x = [1].map ? (function () { class Hidden {} })() : 0`,
		`if (true) { while (false) { require("x"); } }`,
	}
	for _, src := range scripts {
		if err := Validate(src); err == nil {
			t.Errorf("Validate(%q) accepted, want rejection", src)
		}
	}
}
