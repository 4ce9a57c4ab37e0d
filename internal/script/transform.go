package script

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
)

// loopGuardName is the hidden binding the transformer injects at the top of
// every loop body. It increments the execution-wide iteration counter and
// interrupts the whole execution once the budget is exhausted, so the budget
// is cumulative across all loops in a script.
const loopGuardName = "__loopGuard"

type insertion struct {
	pos  int // byte offset into the source
	text string
}

// Transform rewrites source so each iteration of every loop first calls the
// loop guard. Loop bodies that are not blocks are braced. Behavior is
// otherwise unchanged.
//
// A panic during the rewrite degrades to an error so a surprising AST shape
// can never take down the host process.
func Transform(source string) (transformed string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("script transform failed: %v", r)
		}
	}()

	prog, err := parser.ParseFile(nil, "script.js", source, 0)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var inserts []insertion
	collect := func(n ast.Node) error {
		var body ast.Statement
		switch loop := n.(type) {
		case *ast.ForStatement:
			body = loop.Body
		case *ast.WhileStatement:
			body = loop.Body
		case *ast.DoWhileStatement:
			body = loop.Body
		case *ast.ForInStatement:
			body = loop.Body
		case *ast.ForOfStatement:
			body = loop.Body
		default:
			return nil
		}
		inserts = append(inserts, guardInsertions(source, body)...)
		return nil
	}
	if err := walkAST(reflect.ValueOf(prog), collect); err != nil {
		return "", err
	}
	return applyInsertions(source, inserts), nil
}

// guardInsertions produces the edits for one loop body. file.Idx positions
// are 1-based.
func guardInsertions(source string, body ast.Statement) []insertion {
	if block, ok := body.(*ast.BlockStatement); ok {
		return []insertion{{pos: int(block.LeftBrace), text: " " + loopGuardName + "(); "}}
	}
	start, ok := stmtStart(source, body)
	end := int(body.Idx1()) - 1
	if !ok || end < start || end > len(source) {
		return nil
	}
	end = stmtEnd(source, end)
	return []insertion{
		{pos: start, text: "{ " + loopGuardName + "(); "},
		{pos: end, text: " }"},
	}
}

// stmtStart resolves the 0-based offset where a non-block loop body begins.
// Some statement nodes report a zero Idx0 (the parser leaves the keyword
// position of an if statement unset), so the offset is recovered from the
// earliest positioned descendant, backing up over the introducing keyword.
func stmtStart(source string, body ast.Statement) (int, bool) {
	if idx := int(body.Idx0()); idx >= 1 {
		return idx - 1, true
	}
	first := earliestIdx(body)
	if first < 1 || first > len(source) {
		return 0, false
	}
	i := first - 1
	for i > 0 && (source[i-1] == ' ' || source[i-1] == '\t' || source[i-1] == '\n' || source[i-1] == '\r' || source[i-1] == '(') {
		i--
	}
	for i > 0 && isIdentByte(source[i-1]) {
		i--
	}
	return i, true
}

// earliestIdx finds the smallest valid 1-based position among a node's
// descendants.
func earliestIdx(n ast.Node) int {
	first := 0
	_ = walkAST(reflect.ValueOf(n), func(d ast.Node) error {
		if idx := int(d.Idx0()); idx >= 1 && (first == 0 || idx < first) {
			first = idx
		}
		return nil
	})
	return first
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// stmtEnd extends end past a trailing same-line semicolon so the inserted
// closing brace lands after the full statement.
func stmtEnd(source string, end int) int {
	i := end
	for i < len(source) && (source[i] == ' ' || source[i] == '\t') {
		i++
	}
	if i < len(source) && source[i] == ';' {
		return i + 1
	}
	return end
}

// applyInsertions applies edits back to front so earlier offsets stay valid.
func applyInsertions(source string, inserts []insertion) string {
	sort.SliceStable(inserts, func(i, j int) bool {
		return inserts[i].pos > inserts[j].pos
	})
	out := []byte(source)
	for _, ins := range inserts {
		out = append(out[:ins.pos], append([]byte(ins.text), out[ins.pos:]...)...)
	}
	return string(out)
}
