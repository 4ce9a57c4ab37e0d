package script

import (
	"fmt"
	"reflect"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
)

// bannedIdentifiers maps identifiers a script must never reference to the
// reason they are refused. Dynamic evaluation and module loading would let a
// script escape the fixed binding table.
var bannedIdentifiers = map[string]string{
	"eval":          "dynamic code evaluation is not allowed",
	"Function":      "the Function constructor is not allowed",
	"require":       "module loading is not allowed",
	"importScripts": "module loading is not allowed",
}

// Validate statically scans source and refuses disallowed constructs before
// anything runs. A parse failure is a validation failure too: an unparsable
// script never reaches the engine.
func Validate(source string) error {
	prog, err := parser.ParseFile(nil, "script.js", source, 0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return walkAST(reflect.ValueOf(prog), checkNode)
}

func checkNode(n ast.Node) error {
	switch node := n.(type) {
	case *ast.Identifier:
		if reason, banned := bannedIdentifiers[node.Name.String()]; banned {
			return fmt.Errorf("%w: %s (%q)", ErrValidation, reason, node.Name.String())
		}
	case *ast.ClassLiteral:
		return fmt.Errorf("%w: class declarations are not allowed", ErrValidation)
	case *ast.FunctionLiteral:
		if node.Async {
			return fmt.Errorf("%w: async functions are not allowed", ErrValidation)
		}
	case *ast.ArrowFunctionLiteral:
		if node.Async {
			return fmt.Errorf("%w: async functions are not allowed", ErrValidation)
		}
	}
	return nil
}

// walkAST visits every ast.Node reachable from v. Reflection keeps the walk
// exhaustive across node kinds without enumerating every statement and
// expression type by hand.
func walkAST(v reflect.Value, visit func(ast.Node) error) error {
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return walkAST(v.Elem(), visit)
	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		if n, ok := v.Interface().(ast.Node); ok {
			if err := visit(n); err != nil {
				return err
			}
		}
		return walkAST(v.Elem(), visit)
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			f := v.Field(i)
			if !f.CanInterface() {
				continue
			}
			if err := walkAST(f, visit); err != nil {
				return err
			}
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			if err := walkAST(v.Index(i), visit); err != nil {
				return err
			}
		}
	}
	return nil
}
