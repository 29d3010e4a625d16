package form

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Change operation names as they appear on the wire.
const (
	OpSet     = "set"
	OpRemove  = "remove"
	OpHide    = "hide"
	OpReorder = "reorder"
)

var ErrInvalidPath = errors.New("invalid path")

// Change is one form-modification operation carried by a variant.
// The set of implementations is closed: Set, Remove, Hide and Reorder.
type Change interface {
	Op() string
	apply(doc map[string]any) error
}

// Set replaces the value at Path, creating intermediate objects as needed.
type Set struct {
	Path  string
	Value any
}

// Remove deletes the value at Path. Missing paths are ignored.
type Remove struct {
	Path string
}

// Hide is shorthand for Set{Path + ".hidden", true}.
type Hide struct {
	Path string
}

// Reorder permutes the array at Path. NewOrder lists source indexes in
// their new positions; indexes it omits keep their relative order after
// the listed ones. Only paths starting with "fields" are reordered.
type Reorder struct {
	Path     string
	NewOrder []int
}

func (Set) Op() string     { return OpSet }
func (Remove) Op() string  { return OpRemove }
func (Hide) Op() string    { return OpHide }
func (Reorder) Op() string { return OpReorder }

// Changes is an ordered list of operations with a tagged JSON encoding:
//
//	[{"op":"set","path":"fields.0.label","value":"Work email"},
//	 {"op":"reorder","path":"fields","order":[2,0,1]}]
type Changes []Change

type wireChange struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
	Order []int           `json:"order,omitempty"`
}

func (c Changes) MarshalJSON() ([]byte, error) {
	out := make([]wireChange, 0, len(c))
	for i, ch := range c {
		w := wireChange{Op: ch.Op()}
		switch v := ch.(type) {
		case Set:
			raw, err := json.Marshal(v.Value)
			if err != nil {
				return nil, fmt.Errorf("change %d: failed to marshal value: %w", i, err)
			}
			w.Path, w.Value = v.Path, raw
		case Remove:
			w.Path = v.Path
		case Hide:
			w.Path = v.Path
		case Reorder:
			w.Path, w.Order = v.Path, v.NewOrder
		default:
			return nil, fmt.Errorf("change %d: unsupported operation %q", i, ch.Op())
		}
		out = append(out, w)
	}
	return json.Marshal(out)
}

func (c *Changes) UnmarshalJSON(data []byte) error {
	var wire []wireChange
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	changes := make(Changes, 0, len(wire))
	for i, w := range wire {
		if w.Path == "" {
			return fmt.Errorf("change %d: %w: empty path", i, ErrInvalidPath)
		}
		switch w.Op {
		case OpSet:
			var value any
			if len(w.Value) > 0 {
				if err := json.Unmarshal(w.Value, &value); err != nil {
					return fmt.Errorf("change %d: failed to unmarshal value: %w", i, err)
				}
			}
			changes = append(changes, Set{Path: w.Path, Value: value})
		case OpRemove:
			changes = append(changes, Remove{Path: w.Path})
		case OpHide:
			changes = append(changes, Hide{Path: w.Path})
		case OpReorder:
			changes = append(changes, Reorder{Path: w.Path, NewOrder: w.Order})
		default:
			return fmt.Errorf("change %d: unknown operation %q", i, w.Op)
		}
	}

	*c = changes
	return nil
}
