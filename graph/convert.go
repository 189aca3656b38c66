package graph

import "fmt"

func fieldCountErr(structName string, got, min, max int) error {
	if min == max {
		return fmt.Errorf("%s: expected %d fields, got %d", structName, min, got)
	}
	return fmt.Errorf("%s: expected %d or %d fields, got %d", structName, min, max, got)
}

func fieldTypeErr(field, want string, got any) error {
	return fmt.Errorf("%s: expected %s, got %T", field, want, got)
}

func asInt64(v any, field string) (int64, error) {
	n, ok := v.(int64)
	if !ok {
		return 0, fieldTypeErr(field, "int64", v)
	}
	return n, nil
}

func asFloat64(v any, field string) (float64, error) {
	f, ok := v.(float64)
	if !ok {
		return 0, fieldTypeErr(field, "float64", v)
	}
	return f, nil
}

func asString(v any, field string) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fieldTypeErr(field, "string", v)
	}
	return s, nil
}

func asStringList(v any, field string) ([]string, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fieldTypeErr(field, "list", v)
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fieldTypeErr(fmt.Sprintf("%s[%d]", field, i), "string", item)
		}
		out[i] = s
	}
	return out, nil
}

func asDict(v any, field string) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fieldTypeErr(field, "dict", v)
	}
	return m, nil
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func dictToAny(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
