package configstore

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
)

// EnvFile is an order-preserving line-oriented KEY=VALUE document:
// comments and blank lines are preserved verbatim; keys keep their
// first-encountered order on rewrite, new keys append at the end.
type EnvFile struct {
	lines []envLine
	index map[string]int // key -> position in lines
}

type envLine struct {
	raw      string // full original line, used when not a KEY=VALUE pair
	isEntry  bool
	key      string
	value    string
}

// ReadEnvFile parses path. A missing file returns an empty EnvFile, not an
// error ("all reads are total").
func ReadEnvFile(path string) (*EnvFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &EnvFile{index: make(map[string]int)}, nil
		}
		return nil, err
	}
	return ParseEnvFile(data), nil
}

// ParseEnvFile parses raw env-file bytes.
func ParseEnvFile(data []byte) *EnvFile {
	ef := &EnvFile{index: make(map[string]int)}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			ef.lines = append(ef.lines, envLine{raw: line})
			continue
		}
		key, value, ok := splitKV(trimmed)
		if !ok {
			ef.lines = append(ef.lines, envLine{raw: line})
			continue
		}
		ef.index[key] = len(ef.lines)
		ef.lines = append(ef.lines, envLine{isEntry: true, key: key, value: value})
	}
	return ef
}

func splitKV(s string) (key, value string, ok bool) {
	idx := strings.Index(s, "=")
	if idx < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(s[:idx])
	if key == "" {
		return "", "", false
	}
	value = strings.TrimSpace(s[idx+1:])
	value = unquote(value)
	return key, value, true
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// Get returns a key's value and whether it was present.
func (ef *EnvFile) Get(key string) (string, bool) {
	idx, ok := ef.index[key]
	if !ok {
		return "", false
	}
	return ef.lines[idx].value, true
}

// Keys returns all keys in first-encountered order.
func (ef *EnvFile) Keys() []string {
	keys := make([]string, 0, len(ef.index))
	for _, l := range ef.lines {
		if l.isEntry {
			keys = append(keys, l.key)
		}
	}
	return keys
}

// Set updates an existing key in place or appends a new KEY=VALUE line at
// the end, preserving order for everything else.
func (ef *EnvFile) Set(key, value string) {
	if idx, ok := ef.index[key]; ok {
		ef.lines[idx].value = value
		return
	}
	ef.index[key] = len(ef.lines)
	ef.lines = append(ef.lines, envLine{isEntry: true, key: key, value: value})
}

// Delete removes a key entirely, leaving the order of all other lines
// unchanged.
func (ef *EnvFile) Delete(key string) {
	idx, ok := ef.index[key]
	if !ok {
		return
	}
	ef.lines = append(ef.lines[:idx], ef.lines[idx+1:]...)
	delete(ef.index, key)
	for k, i := range ef.index {
		if i > idx {
			ef.index[k] = i - 1
		}
	}
}

// Bytes serializes the file back to text, preserving comments, blank lines,
// and key order.
func (ef *EnvFile) Bytes() []byte {
	var buf bytes.Buffer
	for _, l := range ef.lines {
		if l.isEntry {
			fmt.Fprintf(&buf, "%s=%s\n", l.key, quoteIfNeeded(l.value))
		} else {
			buf.WriteString(l.raw)
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}

func quoteIfNeeded(v string) string {
	if strings.ContainsAny(v, " #\t") {
		return `"` + v + `"`
	}
	return v
}

// WriteEnvFile serializes and atomically writes ef to path.
func WriteEnvFile(path string, ef *EnvFile) error {
	return atomicWrite(path, ef.Bytes(), 0o600)
}
