package form

import (
	"fmt"
	"strconv"
	"strings"
)

// Definition is a decoded form definition: nested JSON objects and arrays.
type Definition = map[string]any

// Apply returns a copy of base with every change applied in order.
// base itself is never modified.
func Apply(base Definition, changes Changes) (Definition, error) {
	doc, _ := deepCopy(base).(map[string]any)
	if doc == nil {
		doc = map[string]any{}
	}

	for i, ch := range changes {
		if err := ch.apply(doc); err != nil {
			return nil, fmt.Errorf("change %d (%s): %w", i, ch.Op(), err)
		}
	}
	return doc, nil
}

func (c Set) apply(doc map[string]any) error {
	segs, err := splitPath(c.Path)
	if err != nil {
		return err
	}
	_, err = setIn(doc, segs, deepCopy(c.Value))
	return err
}

func (c Remove) apply(doc map[string]any) error {
	segs, err := splitPath(c.Path)
	if err != nil {
		return err
	}
	_, err = removeIn(doc, segs)
	return err
}

func (c Hide) apply(doc map[string]any) error {
	return Set{Path: c.Path + ".hidden", Value: true}.apply(doc)
}

func (c Reorder) apply(doc map[string]any) error {
	segs, err := splitPath(c.Path)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(c.Path, "fields") {
		return nil
	}

	node, ok := getIn(doc, segs)
	if !ok {
		return nil
	}
	items, ok := node.([]any)
	if !ok {
		return fmt.Errorf("%w: %s is not an array", ErrInvalidPath, c.Path)
	}

	reordered := make([]any, 0, len(items))
	used := make([]bool, len(items))
	for _, idx := range c.NewOrder {
		if idx < 0 || idx >= len(items) || used[idx] {
			continue
		}
		used[idx] = true
		reordered = append(reordered, items[idx])
	}
	for i, item := range items {
		if !used[i] {
			reordered = append(reordered, item)
		}
	}

	_, err = setIn(doc, segs, reordered)
	return err
}

func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	segs := strings.Split(path, ".")
	for _, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return segs, nil
}

func setIn(node any, segs []string, value any) (any, error) {
	if len(segs) == 0 {
		return value, nil
	}

	switch n := node.(type) {
	case nil:
		return setIn(map[string]any{}, segs, value)
	case map[string]any:
		child, err := setIn(n[segs[0]], segs[1:], value)
		if err != nil {
			return nil, err
		}
		n[segs[0]] = child
		return n, nil
	case []any:
		i, err := arrayIndex(segs[0], len(n))
		if err != nil {
			return nil, err
		}
		child, err := setIn(n[i], segs[1:], value)
		if err != nil {
			return nil, err
		}
		n[i] = child
		return n, nil
	default:
		return nil, fmt.Errorf("%w: cannot descend into %T at %q", ErrInvalidPath, node, segs[0])
	}
}

func removeIn(node any, segs []string) (any, error) {
	switch n := node.(type) {
	case map[string]any:
		child, ok := n[segs[0]]
		if !ok {
			return n, nil
		}
		if len(segs) == 1 {
			delete(n, segs[0])
			return n, nil
		}
		updated, err := removeIn(child, segs[1:])
		if err != nil {
			return nil, err
		}
		n[segs[0]] = updated
		return n, nil
	case []any:
		i, err := strconv.Atoi(segs[0])
		if err != nil || i < 0 || i >= len(n) {
			return n, nil
		}
		if len(segs) == 1 {
			return append(n[:i:i], n[i+1:]...), nil
		}
		updated, err := removeIn(n[i], segs[1:])
		if err != nil {
			return nil, err
		}
		n[i] = updated
		return n, nil
	default:
		return node, nil
	}
}

func getIn(node any, segs []string) (any, bool) {
	for _, seg := range segs {
		switch n := node.(type) {
		case map[string]any:
			v, ok := n[seg]
			if !ok {
				return nil, false
			}
			node = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(n) {
				return nil, false
			}
			node = n[i]
		default:
			return nil, false
		}
	}
	return node, true
}

func arrayIndex(seg string, length int) (int, error) {
	i, err := strconv.Atoi(seg)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an array index", ErrInvalidPath, seg)
	}
	if i < 0 || i >= length {
		return 0, fmt.Errorf("%w: index %d out of range (len %d)", ErrInvalidPath, i, length)
	}
	return i, nil
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = deepCopy(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = deepCopy(val)
		}
		return s
	default:
		return v
	}
}
