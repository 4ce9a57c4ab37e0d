package script

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Pure helpers backing the utility bindings. None of these suspend or touch
// shared state; they are exposed to scripts one-to-one.

// ChunkString splits s into pieces of at most maxChars characters, breaking
// on line boundaries where possible. A single line longer than maxChars is
// hard-split.
func ChunkString(s string, maxChars int) []string {
	if maxChars < 1 {
		maxChars = 1
	}
	if len(s) <= maxChars {
		if s == "" {
			return nil
		}
		return []string{s}
	}

	var chunks []string
	var cur strings.Builder
	for _, line := range strings.SplitAfter(s, "\n") {
		for len(line) > maxChars {
			if cur.Len() > 0 {
				chunks = append(chunks, cur.String())
				cur.Reset()
			}
			chunks = append(chunks, line[:maxChars])
			line = line[maxChars:]
		}
		if cur.Len()+len(line) > maxChars && cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// blockKey derives the grouping key of a labeled block. Falls back through
// the common label fields used by search and extraction tools.
func blockKey(block map[string]any) string {
	for _, field := range []string{"key", "file", "path"} {
		if v, ok := block[field]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// blockSize measures a block's contribution to a chunk's size budget.
func blockSize(block map[string]any) int {
	if v, ok := block["text"]; ok {
		if s, ok := v.(string); ok {
			return len(s)
		}
	}
	data, err := json.Marshal(block)
	if err != nil {
		return 0
	}
	return len(data)
}

// ChunkBlocksByKey packs labeled blocks into chunks of roughly maxChars,
// keeping all blocks that share a key in the same chunk. A new chunk starts
// only when adding the next key's blocks would exceed the budget; a single
// key whose blocks alone exceed the budget still stays together in one
// oversized chunk.
func ChunkBlocksByKey(blocks []map[string]any, maxChars int) [][]map[string]any {
	if maxChars < 1 {
		maxChars = 1
	}

	type group struct {
		blocks []map[string]any
		size   int
	}
	var order []string
	groups := make(map[string]*group)
	for _, b := range blocks {
		k := blockKey(b)
		g, ok := groups[k]
		if !ok {
			g = &group{}
			groups[k] = g
			order = append(order, k)
		}
		g.blocks = append(g.blocks, b)
		g.size += blockSize(b)
	}

	var chunks [][]map[string]any
	var cur []map[string]any
	curSize := 0
	for _, k := range order {
		g := groups[k]
		if curSize > 0 && curSize+g.size > maxChars {
			chunks = append(chunks, cur)
			cur = nil
			curSize = 0
		}
		cur = append(cur, g.blocks...)
		curSize += g.size
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}

// ExtractFilePaths pulls unique file paths out of labeled search-result
// text: "File: path" headers and grep-style "path:line:match" lines.
// First-seen order is preserved.
func ExtractFilePaths(text string) []string {
	var paths []string
	seen := make(map[string]bool)
	add := func(p string) {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		paths = append(paths, p)
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, "File:"); ok {
			add(rest)
			continue
		}
		head, _, ok := strings.Cut(trimmed, ":")
		if !ok {
			continue
		}
		if strings.ContainsAny(head, " \t") {
			continue
		}
		if strings.Contains(head, "/") || strings.Contains(head, ".") {
			add(head)
		}
	}
	return paths
}

// Flatten expands nested sequences by exactly one level.
func Flatten(items []any) []any {
	out := make([]any, 0, len(items))
	for _, it := range items {
		if nested, ok := it.([]any); ok {
			out = append(out, nested...)
			continue
		}
		out = append(out, it)
	}
	return out
}

// Unique removes duplicates, keeping the first occurrence of each value.
func Unique(items []any) []any {
	seen := make(map[string]bool, len(items))
	out := make([]any, 0, len(items))
	for _, it := range items {
		k := canonicalKey(it)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, it)
	}
	return out
}

func canonicalKey(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// Batch splits items into consecutive groups of at most size elements.
func Batch(items []any, size int) [][]any {
	if size < 1 {
		size = 1
	}
	var out [][]any
	for len(items) > 0 {
		n := min(size, len(items))
		out = append(out, items[:n])
		items = items[n:]
	}
	return out
}

// GroupBy buckets records by the string form of the named field. Records
// missing the field land under the empty key.
func GroupBy(items []any, field string) map[string][]any {
	out := make(map[string][]any)
	for _, it := range items {
		key := ""
		if rec, ok := it.(map[string]any); ok {
			if v, ok := rec[field]; ok && v != nil {
				key = fmt.Sprint(v)
			}
		}
		out[key] = append(out[key], it)
	}
	return out
}

// RecoverJSON parses s as JSON, tolerating the markup models wrap results
// in. It strips surrounding code fences, and when the whole string does not
// parse, tries the first balanced {...} or [...] substring. Returns
// (nil, false) when nothing parses; it never fails hard.
func RecoverJSON(s string) (any, bool) {
	t := stripFences(strings.TrimSpace(s))

	var v any
	if err := json.Unmarshal([]byte(t), &v); err == nil {
		return v, true
	}
	if candidate, ok := firstBalanced(t); ok {
		if err := json.Unmarshal([]byte(candidate), &v); err == nil {
			return v, true
		}
	}
	return nil, false
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = s[3:]
	// Drop the language tag on the opening fence line.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// firstBalanced returns the first balanced top-level JSON object or array
// substring, honoring string literals and escapes.
func firstBalanced(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	open, closing := s[start], byte('}')
	if open == '[' {
		closing = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == closing:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
