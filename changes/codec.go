package changes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
)

// Every change and value travels as a single-key object {"TypeName": payload}.
// The names form a registry shared with other implementations; decoding an
// unknown name fails instead of skipping the entry.

type (
	ChangeDecoder func(payload json.RawMessage) (Change, error)
	ValueDecoder  func(payload json.RawMessage) (Value, error)
)

var (
	registryMu  sync.RWMutex
	changeTypes = map[string]ChangeDecoder{}
	valueTypes  = map[string]ValueDecoder{}
)

// RegisterChange adds a change type name to the registry.
func RegisterChange(name string, decode ChangeDecoder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	changeTypes[name] = decode
}

// RegisterValue adds a value type name to the registry.
func RegisterValue(name string, decode ValueDecoder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	valueTypes[name] = decode
}

func init() {
	RegisterChange("Replace", decodeReplace)
	RegisterChange("Splice", decodeSplice)
	RegisterChange("Move", decodeMove)
	RegisterChange("PathChange", decodePathChange)
	RegisterChange("Changes", decodeChanges)

	RegisterValue("Null", func(json.RawMessage) (Value, error) { return Null{}, nil })
	RegisterValue("Atomic", decodeAtomic)
	RegisterValue("Text", decodeText)
	RegisterValue("List", decodeList)
	RegisterValue("Map", decodeMap)
}

// MarshalChange encodes c; a nil change encodes as null.
func MarshalChange(c Change) ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalChange decodes a tagged change. null decodes to the nil change.
func UnmarshalChange(data []byte) (Change, error) {
	if isNull(data) {
		return nil, nil
	}
	name, payload, err := splitTagged(data)
	if err != nil {
		return nil, err
	}
	registryMu.RLock()
	decode, ok := changeTypes[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("change %q: %w", name, ErrUnknownType)
	}
	return decode(payload)
}

// UnmarshalValue decodes a tagged value. null decodes to Null.
func UnmarshalValue(data []byte) (Value, error) {
	if isNull(data) {
		return Null{}, nil
	}
	name, payload, err := splitTagged(data)
	if err != nil {
		return nil, err
	}
	registryMu.RLock()
	decode, ok := valueTypes[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("value %q: %w", name, ErrUnknownType)
	}
	return decode(payload)
}

func isNull(data []byte) bool {
	return len(bytes.TrimSpace(data)) == 0 || string(bytes.TrimSpace(data)) == "null"
}

func splitTagged(data []byte) (string, json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return "", nil, fmt.Errorf("decode tagged object: %w", err)
	}
	if len(m) != 1 {
		return "", nil, fmt.Errorf("tagged object has %d keys, want 1", len(m))
	}
	for name, payload := range m {
		return name, payload, nil
	}
	panic("unreachable")
}

func tagged(name string, payload any) ([]byte, error) {
	return json.Marshal(map[string]any{name: payload})
}

func (r Replace) MarshalJSON() ([]byte, error) {
	return tagged("Replace", []any{r.Before, r.After})
}

func (s Splice) MarshalJSON() ([]byte, error) {
	return tagged("Splice", []any{s.Offset, s.Before, s.After})
}

func (m Move) MarshalJSON() ([]byte, error) {
	return tagged("Move", []int{m.Offset, m.Count, m.Distance})
}

func (p PathChange) MarshalJSON() ([]byte, error) {
	return tagged("PathChange", []any{[]any(p.Path), p.Change})
}

func (cs Changes) MarshalJSON() ([]byte, error) {
	return tagged("Changes", []Change(cs))
}

func (Null) MarshalJSON() ([]byte, error)     { return []byte(`{"Null":null}`), nil }
func (a Atomic) MarshalJSON() ([]byte, error) { return tagged("Atomic", a.V) }
func (t Text) MarshalJSON() ([]byte, error)   { return tagged("Text", string(t)) }
func (l List) MarshalJSON() ([]byte, error)   { return tagged("List", []Value(l)) }
func (m Map) MarshalJSON() ([]byte, error)    { return tagged("Map", map[string]Value(m)) }

func tuple(payload json.RawMessage, n int) ([]json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(payload, &parts); err != nil {
		return nil, err
	}
	if len(parts) != n {
		return nil, fmt.Errorf("tuple has %d elements, want %d", len(parts), n)
	}
	return parts, nil
}

func decodeReplace(payload json.RawMessage) (Change, error) {
	parts, err := tuple(payload, 2)
	if err != nil {
		return nil, fmt.Errorf("Replace: %w", err)
	}
	before, err := UnmarshalValue(parts[0])
	if err != nil {
		return nil, err
	}
	after, err := UnmarshalValue(parts[1])
	if err != nil {
		return nil, err
	}
	return Replace{Before: before, After: after}, nil
}

func decodeSequence(data json.RawMessage) (Sequence, error) {
	v, err := UnmarshalValue(data)
	if err != nil {
		return nil, err
	}
	s, ok := v.(Sequence)
	if !ok {
		return nil, fmt.Errorf("splice payload %T is not a sequence", v)
	}
	return s, nil
}

func decodeSplice(payload json.RawMessage) (Change, error) {
	parts, err := tuple(payload, 3)
	if err != nil {
		return nil, fmt.Errorf("Splice: %w", err)
	}
	var offset int
	if err := json.Unmarshal(parts[0], &offset); err != nil {
		return nil, fmt.Errorf("Splice offset: %w", err)
	}
	before, err := decodeSequence(parts[1])
	if err != nil {
		return nil, err
	}
	after, err := decodeSequence(parts[2])
	if err != nil {
		return nil, err
	}
	sp := Splice{Offset: offset, Before: before, After: after}
	if !sameKind(before, after) {
		return nil, invalid(sp, "payload kinds %T and %T differ", before, after)
	}
	return sp, nil
}

func decodeMove(payload json.RawMessage) (Change, error) {
	var v []int
	if err := json.Unmarshal(payload, &v); err != nil || len(v) != 3 {
		return nil, fmt.Errorf("Move: want [offset, count, distance], got %s", payload)
	}
	return Move{Offset: v[0], Count: v[1], Distance: v[2]}, nil
}

func decodePathChange(payload json.RawMessage) (Change, error) {
	parts, err := tuple(payload, 2)
	if err != nil {
		return nil, fmt.Errorf("PathChange: %w", err)
	}
	path, err := decodePath(parts[0])
	if err != nil {
		return nil, err
	}
	inner, err := UnmarshalChange(parts[1])
	if err != nil {
		return nil, err
	}
	return NewPathChange(path, inner), nil
}

func decodePath(data json.RawMessage) (Path, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("path: %w", err)
	}
	path := make(Path, len(raw))
	for i, k := range raw {
		switch k := k.(type) {
		case string:
			path[i] = k
		case json.Number:
			n, err := k.Int64()
			if err != nil {
				return nil, fmt.Errorf("path index %v: %w", k, err)
			}
			path[i] = int(n)
		default:
			return nil, fmt.Errorf("path element %v has type %T", k, k)
		}
	}
	return path, nil
}

func decodeChanges(payload json.RawMessage) (Change, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(payload, &parts); err != nil {
		return nil, fmt.Errorf("Changes: %w", err)
	}
	out := make(Changes, 0, len(parts))
	for _, p := range parts {
		c, err := UnmarshalChange(p)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func decodeAtomic(payload json.RawMessage) (Value, error) {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("Atomic: %w", err)
	}
	return Atomic{V: v}, nil
}

func decodeText(payload json.RawMessage) (Value, error) {
	var s string
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("Text: %w", err)
	}
	return Text(s), nil
}

func decodeList(payload json.RawMessage) (Value, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(payload, &parts); err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	out := make(List, 0, len(parts))
	for _, p := range parts {
		v, err := UnmarshalValue(p)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeMap(payload json.RawMessage) (Value, error) {
	var parts map[string]json.RawMessage
	if err := json.Unmarshal(payload, &parts); err != nil {
		return nil, fmt.Errorf("Map: %w", err)
	}
	out := make(Map, len(parts))
	for k, p := range parts {
		v, err := UnmarshalValue(p)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}
