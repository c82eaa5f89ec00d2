package brain

import (
	"fmt"
	"strings"
)

// Call is one parsed FUNCTION_CALL directive: a capability name plus its
// keyword arguments. Argument values are string or []string; handlers
// coerce to numbers or booleans themselves.
type Call struct {
	Name string
	Args map[string]interface{}
	Raw  string
}

// ParseCall parses `name(key=value, key=[v1, v2])` without evaluating
// anything. Values come in three shapes: a quoted string (single or double
// quotes, with \" and \' unescaped), a bracketed comma-separated list, or a
// bare token running up to the next top-level comma or the closing paren.
func ParseCall(text string) (*Call, error) {
	text = strings.TrimSpace(text)

	open := strings.IndexByte(text, '(')
	if open < 0 {
		return nil, fmt.Errorf("调用格式错误，缺少 '(': %s", text)
	}
	closing := strings.LastIndexByte(text, ')')
	if closing < open {
		return nil, fmt.Errorf("调用格式错误，缺少 ')': %s", text)
	}

	name := strings.TrimSpace(text[:open])
	if name == "" {
		return nil, fmt.Errorf("调用格式错误，缺少函数名: %s", text)
	}

	call := &Call{Name: name, Args: make(map[string]interface{}), Raw: text}
	inner := strings.TrimSpace(text[open+1 : closing])
	if inner == "" {
		return call, nil
	}

	for _, arg := range splitTopLevel(inner) {
		eq := strings.IndexByte(arg, '=')
		if eq < 0 {
			return nil, fmt.Errorf("参数格式错误，缺少 '=': %s", strings.TrimSpace(arg))
		}
		key := strings.TrimSpace(arg[:eq])
		if key == "" {
			return nil, fmt.Errorf("参数格式错误，缺少参数名: %s", strings.TrimSpace(arg))
		}
		call.Args[key] = parseValue(strings.TrimSpace(arg[eq+1:]))
	}
	return call, nil
}

// splitTopLevel splits on commas that sit outside quotes and outside
// brackets, so `symbols=[BTCUSDT, ETHUSDT], question="a, b"` yields two
// arguments.
func splitTopLevel(s string) []string {
	var (
		parts   []string
		start   int
		depth   int
		quote   byte
		escaped bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case quote != 0:
			if c == '\\' {
				escaped = true
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '[':
			depth++
		case c == ']':
			if depth > 0 {
				depth--
			}
		case c == ',' && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func parseValue(v string) interface{} {
	if len(v) >= 2 && v[0] == '[' && v[len(v)-1] == ']' {
		return parseList(v[1 : len(v)-1])
	}
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return unescape(v[1 : len(v)-1])
	}
	return v
}

func parseList(body string) []string {
	if strings.TrimSpace(body) == "" {
		return []string{}
	}
	items := splitTopLevel(body)
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		item = strings.Trim(item, `"'`)
		out = append(out, item)
	}
	return out
}

func unescape(s string) string {
	s = strings.ReplaceAll(s, `\"`, `"`)
	s = strings.ReplaceAll(s, `\'`, `'`)
	return s
}

// StringArg returns the named argument as a string, empty when absent or
// not a string.
func (c *Call) StringArg(key string) string {
	if v, ok := c.Args[key].(string); ok {
		return v
	}
	return ""
}

// ListArg returns the named argument as a string slice. A scalar string
// value is promoted to a one-element slice.
func (c *Call) ListArg(key string) []string {
	switch v := c.Args[key].(type) {
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}
