// Package codec converts values to and from the JSON text frames of the bridge.
//
// Outbound values are rewritten into a JSON-safe tree first: arbitrary-precision
// integers become decimal strings and byte slices become tagged buffers
// ({"type":"Buffer","data":"<base64>"}). Inbound frames are only parsed at the
// envelope level; tagged buffers inside arguments are not turned back into bytes.
package codec

import (
	"bytes"
	"encoding"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/dkeye/bridge/internal/core"
	"github.com/dkeye/bridge/internal/domain"
)

var ErrMalformedFrame = errors.New("malformed frame")

// BufferType is the tag of an encoded byte sequence.
const BufferType = "Buffer"

// Buffer is the wire form of a byte sequence.
type Buffer struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

func NewBuffer(b []byte) Buffer {
	return Buffer{Type: BufferType, Data: base64.StdEncoding.EncodeToString(b)}
}

// Bytes decodes the base64 payload.
func (b Buffer) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(b.Data)
}

var ErrUnsupportedValue = errors.New("unsupported value")

var (
	bigIntType        = reflect.TypeOf(big.Int{})
	bigIntPtrType     = reflect.PointerTo(bigIntType)
	marshalerType     = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// Marshal encodes v after rewriting it with Encode.
func Marshal(v any) ([]byte, error) {
	tree, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tree)
}

func EncodeResponse(id json.RawMessage, result any) (core.Frame, error) {
	return Marshal(domain.Response{Type: domain.TypeResponse, ID: normalizeID(id), Result: result})
}

// EncodeError never fails: the message is a plain string and the id is raw JSON
// taken from a frame that already parsed.
func EncodeError(id json.RawMessage, msg string) core.Frame {
	b, err := json.Marshal(domain.Error{Type: domain.TypeError, ID: normalizeID(id), Error: msg})
	if err != nil {
		b, _ = json.Marshal(domain.Error{Type: domain.TypeError, ID: domain.NullID, Error: msg})
	}
	return b
}

func EncodeEvent(name string, data any) (core.Frame, error) {
	return Marshal(domain.Event{Type: domain.TypeEvent, Name: name, Data: data})
}

// DecodeRequest parses the envelope of an inbound frame. Numbers in the payload
// keep their textual form (json.Number) when decoded with DecodePayload.
func DecodeRequest(data []byte) (*domain.Request, error) {
	var req domain.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if req.Cmd == "" {
		return nil, fmt.Errorf("%w: missing cmd", ErrMalformedFrame)
	}
	req.Payload = data
	return &req, nil
}

// DecodePayload decodes the command-specific fields of a request into v.
func DecodePayload(req *domain.Request, v any) error {
	dec := json.NewDecoder(bytes.NewReader(req.Payload))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}

// RecoverID returns the id of a frame whose body could not be fully decoded,
// or JSON null.
func RecoverID(data []byte) json.RawMessage {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return domain.NullID
	}
	return normalizeID(probe.ID)
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(id)) == 0 {
		return domain.NullID
	}
	return id
}

// Encode returns a copy of v that encoding/json can render without losing
// integer precision or binary content. Values that marshal themselves (JSON or
// text) are left for encoding/json; everything else follows its field and
// map-key rules. Cyclic data is an error.
func Encode(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	w := walker{visiting: make(map[visit]struct{})}
	return w.value(reflect.ValueOf(v))
}

type visit struct {
	ptr uintptr
	len int
	typ reflect.Type
}

// walker tracks the pointers, maps and slices on the current path.
type walker struct {
	visiting map[visit]struct{}
}

func (w *walker) enter(rv reflect.Value) (visit, error) {
	k := visit{ptr: rv.Pointer(), typ: rv.Type()}
	if rv.Kind() == reflect.Slice {
		k.len = rv.Len()
	}
	if _, ok := w.visiting[k]; ok {
		return k, fmt.Errorf("%w: encountered a cycle via %s", ErrUnsupportedValue, rv.Type())
	}
	w.visiting[k] = struct{}{}
	return k, nil
}

func (w *walker) leave(k visit) { delete(w.visiting, k) }

func marshals(t reflect.Type) bool {
	return t.Implements(marshalerType) || t.Implements(textMarshalerType)
}

func (w *walker) value(rv reflect.Value) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}
	t := rv.Type()

	switch t {
	case bigIntType:
		if rv.CanAddr() {
			return rv.Addr().Interface().(*big.Int).String(), nil
		}
		n := rv.Interface().(big.Int)
		return n.String(), nil
	case bigIntPtrType:
		if rv.IsNil() {
			return nil, nil
		}
		return rv.Interface().(*big.Int).String(), nil
	}

	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return w.value(rv.Elem())
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
	}

	if marshals(t) {
		return rv.Interface(), nil
	}
	if rv.CanAddr() && marshals(reflect.PointerTo(t)) {
		return rv.Addr().Interface(), nil
	}

	switch rv.Kind() {
	case reflect.Pointer:
		k, err := w.enter(rv)
		if err != nil {
			return nil, err
		}
		defer w.leave(k)
		return w.value(rv.Elem())
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		if t.Elem().Kind() == reflect.Uint8 && !marshals(reflect.PointerTo(t.Elem())) {
			return NewBuffer(rv.Bytes()), nil
		}
		k, err := w.enter(rv)
		if err != nil {
			return nil, err
		}
		defer w.leave(k)
		return w.list(rv)
	case reflect.Array:
		return w.list(rv)
	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		k, err := w.enter(rv)
		if err != nil {
			return nil, err
		}
		defer w.leave(k)
		return w.mapValue(rv)
	case reflect.Struct:
		return w.structValue(rv)
	default:
		return rv.Interface(), nil
	}
}

func (w *walker) list(rv reflect.Value) (any, error) {
	out := make([]any, rv.Len())
	for i := range out {
		v, err := w.value(rv.Index(i))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (w *walker) mapValue(rv reflect.Value) (any, error) {
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key, err := mapKey(iter.Key())
		if err != nil {
			return nil, err
		}
		v, err := w.value(iter.Value())
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	if nodeBuf, ok := nodeBuffer(out); ok {
		return nodeBuf, nil
	}
	return out, nil
}

func mapKey(k reflect.Value) (string, error) {
	if k.Kind() == reflect.String {
		return k.String(), nil
	}
	if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
		if k.Kind() == reflect.Pointer && k.IsNil() {
			return "", nil
		}
		b, err := tm.MarshalText()
		return string(b), err
	}
	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	return "", fmt.Errorf("%w: map key type %s", ErrUnsupportedValue, k.Type())
}

// nodeBuffer rewrites {"type":"Buffer","data":[1,2,...]} objects that came from
// a JavaScript-shaped payload into the base64 form.
func nodeBuffer(m map[string]any) (Buffer, bool) {
	if len(m) != 2 || m["type"] != BufferType {
		return Buffer{}, false
	}
	items, ok := m["data"].([]any)
	if !ok {
		return Buffer{}, false
	}
	raw := make([]byte, len(items))
	for i, it := range items {
		n, ok := byteValue(it)
		if !ok {
			return Buffer{}, false
		}
		raw[i] = n
	}
	return NewBuffer(raw), true
}

func byteValue(v any) (byte, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint8:
		return n, true
	case float64:
		f = n
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		f = float64(i)
	default:
		return 0, false
	}
	if f < 0 || f > 255 || f != float64(int(f)) {
		return 0, false
	}
	return byte(f), true
}

func (w *walker) structValue(rv reflect.Value) (any, error) {
	fields := structFields(rv.Type())
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		fv, ok := fieldByIndex(rv, f.index)
		if !ok {
			continue
		}
		if f.omitEmpty && isEmpty(fv) {
			continue
		}
		v, err := w.value(fv)
		if err != nil {
			return nil, err
		}
		if f.quoted && v != nil {
			b, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			v = string(b)
		}
		out[f.name] = v
	}
	return out, nil
}

// fieldByIndex follows index through embedded structs. A nil embedded pointer
// hides the fields behind it.
func fieldByIndex(v reflect.Value, index []int) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v, true
}

type field struct {
	name      string
	index     []int
	tagged    bool
	omitEmpty bool
	quoted    bool
}

var fieldCache sync.Map // reflect.Type -> []field

func structFields(t reflect.Type) []field {
	if f, ok := fieldCache.Load(t); ok {
		return f.([]field)
	}
	f, _ := fieldCache.LoadOrStore(t, typeFields(t))
	return f.([]field)
}

type embedded struct {
	typ   reflect.Type
	index []int
}

// typeFields lists the fields encoding/json would emit for t: exported fields
// of embedded structs are promoted (even when the embedded type is
// unexported) and for each name the shallowest field wins. Ties at the same
// depth are broken by a json tag, otherwise the name is dropped.
func typeFields(t reflect.Type) []field {
	var all []field
	visited := make(map[reflect.Type]bool)
	next := []embedded{{typ: t}}
	for len(next) > 0 {
		current := next
		next = nil
		for _, e := range current {
			if visited[e.typ] {
				continue
			}
			visited[e.typ] = true
			for i := 0; i < e.typ.NumField(); i++ {
				sf := e.typ.Field(i)
				if sf.Anonymous {
					ft := sf.Type
					if ft.Kind() == reflect.Pointer {
						ft = ft.Elem()
					}
					if !sf.IsExported() && ft.Kind() != reflect.Struct {
						continue
					}
				} else if !sf.IsExported() {
					continue
				}
				tag := sf.Tag.Get("json")
				if tag == "-" {
					continue
				}
				name, opts, _ := strings.Cut(tag, ",")
				index := append(append(make([]int, 0, len(e.index)+1), e.index...), i)

				ft := sf.Type
				if ft.Name() == "" && ft.Kind() == reflect.Pointer {
					ft = ft.Elem()
				}
				if name == "" && sf.Anonymous && ft.Kind() == reflect.Struct {
					next = append(next, embedded{typ: ft, index: index})
					continue
				}
				f := field{
					name:      name,
					index:     index,
					tagged:    name != "",
					omitEmpty: hasOption(opts, "omitempty"),
					quoted:    hasOption(opts, "string") && quotable(ft),
				}
				if f.name == "" {
					f.name = sf.Name
				}
				all = append(all, f)
			}
		}
	}
	return dominantFields(all)
}

func quotable(t reflect.Type) bool {
	if marshals(t) || marshals(reflect.PointerTo(t)) {
		return false
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func dominantFields(all []field) []field {
	byName := make(map[string][]field)
	var order []string
	for _, f := range all {
		if _, ok := byName[f.name]; !ok {
			order = append(order, f.name)
		}
		byName[f.name] = append(byName[f.name], f)
	}
	out := make([]field, 0, len(order))
	for _, name := range order {
		if f, ok := dominantField(byName[name]); ok {
			out = append(out, f)
		}
	}
	return out
}

func dominantField(fs []field) (field, bool) {
	depth := len(fs[0].index)
	for _, f := range fs[1:] {
		depth = min(depth, len(f.index))
	}
	var winner, taggedWinner field
	n, tagged := 0, 0
	for _, f := range fs {
		if len(f.index) != depth {
			continue
		}
		n++
		winner = f
		if f.tagged {
			tagged++
			taggedWinner = f
		}
	}
	switch {
	case n == 1:
		return winner, true
	case tagged == 1:
		return taggedWinner, true
	}
	return field{}, false
}

func hasOption(opts, want string) bool {
	for opts != "" {
		var o string
		o, opts, _ = strings.Cut(opts, ",")
		if o == want {
			return true
		}
	}
	return false
}

func isEmpty(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Interface, reflect.Pointer:
		return v.IsZero()
	}
	return false
}
