// Package xmlrpc parses and emits the XML-RPC payloads carried inside
// GameBox frame bodies: method calls (both client requests and
// server-initiated callbacks), and method responses (a value or a fault).
//
// The grammar is the subset of XML-RPC 1.0 GameBox servers speak:
// methodCall, methodResponse, fault, params, param, value, i4, int,
// boolean, string, double, dateTime.iso8601, base64, array, data, struct,
// member, name.
package xmlrpc

import (
	"math"
	"strconv"
	"time"
)

// Kind identifies which arm of the Value union is populated.
type Kind int

const (
	KindInt Kind = iota
	KindBool
	KindString
	KindDouble
	KindTime
	KindBase64
	KindArray
	KindStruct
)

// Value is a tagged union over every XML-RPC leaf and container type the
// GameBox dialect uses.
type Value struct {
	kind  Kind
	i     int32
	b     bool
	s     string
	d     float64
	t     time.Time
	bytes []byte
	arr   []Value
	strct *Struct
}

// Struct is an ordered name->Value mapping. Order is preserved on both parse
// and emit; duplicate member names keep the last value written but the
// decoder that produced the Struct records how many collisions it saw.
type Struct struct {
	names  []string
	values map[string]Value
}

// NewStruct creates an empty, order-preserving struct value.
func NewStruct() *Struct {
	return &Struct{values: make(map[string]Value)}
}

// Set inserts or overwrites a member. Re-setting an existing name keeps its
// original position in Names().
func (s *Struct) Set(name string, v Value) {
	if _, ok := s.values[name]; !ok {
		s.names = append(s.names, name)
	}
	s.values[name] = v
}

// Get returns the member named name and whether it was present.
func (s *Struct) Get(name string) (Value, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Names returns member names in emission order.
func (s *Struct) Names() []string {
	return s.names
}

// Len reports the number of distinct member names.
func (s *Struct) Len() int {
	return len(s.names)
}

// Equal compares two structs by name-set equality and per-key value
// equality; member order is not part of equality.
func (s *Struct) Equal(o *Struct) bool {
	if s == nil || o == nil {
		return s == o
	}
	if len(s.names) != len(o.names) {
		return false
	}
	for _, name := range s.names {
		v1, ok1 := s.values[name]
		v2, ok2 := o.values[name]
		if !ok1 || !ok2 || !v1.Equal(v2) {
			return false
		}
	}
	return true
}

// Int builds an integer value (<i4>).
func Int(v int32) Value { return Value{kind: KindInt, i: v} }

// Bool builds a boolean value (<boolean>).
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Str builds a string value (<string>).
func Str(v string) Value { return Value{kind: KindString, s: v} }

// Double builds a floating-point value (<double>).
func Double(v float64) Value { return Value{kind: KindDouble, d: v} }

// Time builds a dateTime.iso8601 value.
func Time(v time.Time) Value { return Value{kind: KindTime, t: v} }

// Base64 builds a base64 byte-string value.
func Base64(v []byte) Value {
	cp := make([]byte, len(v))
	copy(cp, v)
	return Value{kind: KindBase64, bytes: cp}
}

// Array builds an ordered sequence value.
func Array(v ...Value) Value { return Value{kind: KindArray, arr: v} }

// StructValue builds a struct value.
func StructValue(s *Struct) Value { return Value{kind: KindStruct, strct: s} }

// Kind reports which arm of the union is populated.
func (v Value) Kind() Kind { return v.kind }

// Int reports whether v holds an integer, and its value.
func (v Value) Int() (int32, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

// AsBool reports whether v holds a boolean, and its value.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsString reports whether v holds a string, and its value.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// AsDouble reports whether v holds a double, and its value.
func (v Value) AsDouble() (float64, bool) {
	if v.kind != KindDouble {
		return 0, false
	}
	return v.d, true
}

// AsTime reports whether v holds a dateTime, and its value.
func (v Value) AsTime() (time.Time, bool) {
	if v.kind != KindTime {
		return time.Time{}, false
	}
	return v.t, true
}

// AsBytes reports whether v holds base64 bytes, and its value.
func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBase64 {
		return nil, false
	}
	return v.bytes, true
}

// AsArray reports whether v holds an array, and its elements.
func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

// AsStruct reports whether v holds a struct, and its contents.
func (v Value) AsStruct() (*Struct, bool) {
	if v.kind != KindStruct {
		return nil, false
	}
	return v.strct, true
}

// Equal reports whether v and o represent the same XML-RPC value: doubles
// compare bit-exact for finite values, structs compare by name-set +
// per-key equality, arrays compare element-wise.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInt:
		return v.i == o.i
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.s == o.s
	case KindDouble:
		return math.Float64bits(v.d) == math.Float64bits(o.d)
	case KindTime:
		return v.t.Equal(o.t)
	case KindBase64:
		if len(v.bytes) != len(o.bytes) {
			return false
		}
		for i := range v.bytes {
			if v.bytes[i] != o.bytes[i] {
				return false
			}
		}
		return true
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindStruct:
		return v.strct.Equal(o.strct)
	default:
		return false
	}
}

// MethodCall is a decoded <methodCall>: a name plus an ordered parameter
// list. It represents both a client request body and a server-initiated
// callback body — the two are distinguished at the frame layer by the
// handle's high bit, not by anything in the XML itself.
type MethodCall struct {
	Name   string
	Params []Value
}

// Fault is a well-formed XML-RPC error response, distinct from a transport
// error: the call reached the server and the server rejected it.
type Fault struct {
	Code    int32
	Message string
}

func (f *Fault) Error() string {
	return "xmlrpc: fault " + strconv.Itoa(int(f.Code)) + ": " + f.Message
}

// Response is a decoded <methodResponse>: exactly one of Value or Fault is
// set.
type Response struct {
	Value Value
	Fault *Fault
}

// IsFault reports whether the response is a fault rather than a value.
func (r Response) IsFault() bool {
	return r.Fault != nil
}
