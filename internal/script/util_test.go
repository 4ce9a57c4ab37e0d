package script

import (
	"reflect"
	"strings"
	"testing"
)

func TestChunkString(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want []string
	}{
		{"empty", "", 10, nil},
		{"fits", "hello", 10, []string{"hello"}},
		{"line boundaries", "aaa\nbbb\nccc\n", 8, []string{"aaa\nbbb\n", "ccc\n"}},
		{"oversized line", "aaaaaaaaaa", 4, []string{"aaaa", "aaaa", "aa"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChunkString(tt.in, tt.max)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ChunkString(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

func TestChunkBlocksByKeyNeverSplitsKey(t *testing.T) {
	blocks := []map[string]any{
		{"key": "a", "text": strings.Repeat("x", 60)},
		{"key": "b", "text": strings.Repeat("y", 30)},
		{"key": "a", "text": strings.Repeat("x", 60)},
	}
	chunks := ChunkBlocksByKey(blocks, 100)

	// Key "a" totals 120 chars, past the budget, and still stays together.
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if len(chunks[0]) != 2 || blockKey(chunks[0][0]) != "a" || blockKey(chunks[0][1]) != "a" {
		t.Errorf("first chunk = %v, want both 'a' blocks together", chunks[0])
	}
	if len(chunks[1]) != 1 || blockKey(chunks[1][0]) != "b" {
		t.Errorf("second chunk = %v, want the 'b' block", chunks[1])
	}
}

func TestChunkBlocksByKeyFlushesOnBudget(t *testing.T) {
	blocks := []map[string]any{
		{"file": "a.go", "text": strings.Repeat("x", 40)},
		{"file": "b.go", "text": strings.Repeat("y", 40)},
		{"file": "c.go", "text": strings.Repeat("z", 40)},
	}
	chunks := ChunkBlocksByKey(blocks, 100)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if len(chunks[0]) != 2 || len(chunks[1]) != 1 {
		t.Errorf("chunk sizes = %d,%d, want 2,1", len(chunks[0]), len(chunks[1]))
	}
}

func TestExtractFilePaths(t *testing.T) {
	text := strings.Join([]string{
		"File: internal/app/server.go",
		"internal/app/server.go:42: func main() {",
		"pkg/util.go:7: // helper",
		"no path here",
		"File: internal/app/server.go",
	}, "\n")

	got := ExtractFilePaths(text)
	want := []string{"internal/app/server.go", "pkg/util.go"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractFilePaths = %v, want %v", got, want)
	}
}

func TestFlatten(t *testing.T) {
	in := []any{"a", []any{"b", "c"}, []any{[]any{"d"}}}
	want := []any{"a", "b", "c", []any{"d"}}
	if got := Flatten(in); !reflect.DeepEqual(got, want) {
		t.Errorf("Flatten = %v, want %v", got, want)
	}
}

func TestUnique(t *testing.T) {
	in := []any{"b", "a", "b", int64(1), int64(1), "a"}
	want := []any{"b", "a", int64(1)}
	if got := Unique(in); !reflect.DeepEqual(got, want) {
		t.Errorf("Unique = %v, want %v", got, want)
	}
}

func TestBatch(t *testing.T) {
	in := []any{1, 2, 3, 4, 5}
	got := Batch(in, 2)
	want := [][]any{{1, 2}, {3, 4}, {5}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Batch = %v, want %v", got, want)
	}
}

func TestGroupBy(t *testing.T) {
	in := []any{
		map[string]any{"lang": "go", "file": "a.go"},
		map[string]any{"lang": "js", "file": "b.js"},
		map[string]any{"lang": "go", "file": "c.go"},
		map[string]any{"file": "d"},
	}
	got := GroupBy(in, "lang")
	if len(got["go"]) != 2 || len(got["js"]) != 1 || len(got[""]) != 1 {
		t.Errorf("GroupBy sizes = go:%d js:%d empty:%d", len(got["go"]), len(got["js"]), len(got[""]))
	}
}

func TestRecoverJSON(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   any
		wantOK bool
	}{
		{"direct object", `{"a": 1}`, map[string]any{"a": float64(1)}, true},
		{"direct array", `[1, 2]`, []any{float64(1), float64(2)}, true},
		{
			"fenced",
			"```json\n{\"a\": true}\n```",
			map[string]any{"a": true}, true,
		},
		{
			"wrapped in prose",
			`Here is the result: {"items": ["x"]} hope that helps`,
			map[string]any{"items": []any{"x"}}, true,
		},
		{
			"braces inside strings",
			`result: {"s": "a { b } c"}`,
			map[string]any{"s": "a { b } c"}, true,
		},
		{"unparsable", "not json at all", nil, false},
		{"unbalanced", `{"a": [1, 2`, nil, false},
		{"empty", "", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RecoverJSON(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("RecoverJSON(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("RecoverJSON(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
