// Package method is the thin boundary a catalogue of typed remote-method
// wrappers (authentication, chat, votes, server status) would sit on top
// of client.Client without reaching into its internals. It holds no
// business methods itself — just the value constructors a wrapper
// catalogue would use to build call arguments.
package method

import (
	"time"

	"gbxremote/xmlrpc"
)

// Int builds an <i4> argument.
func Int(v int32) xmlrpc.Value { return xmlrpc.Int(v) }

// Bool builds a <boolean> argument.
func Bool(v bool) xmlrpc.Value { return xmlrpc.Bool(v) }

// Str builds a <string> argument.
func Str(v string) xmlrpc.Value { return xmlrpc.Str(v) }

// Double builds a <double> argument.
func Double(v float64) xmlrpc.Value { return xmlrpc.Double(v) }

// Time builds a <dateTime.iso8601> argument.
func Time(v time.Time) xmlrpc.Value { return xmlrpc.Time(v) }

// Base64 builds a <base64> argument.
func Base64(v []byte) xmlrpc.Value { return xmlrpc.Base64(v) }

// Array builds an <array> argument from already-built values.
func Array(values ...xmlrpc.Value) xmlrpc.Value { return xmlrpc.Array(values...) }

// Struct builds a <struct> argument from name/value pairs, preserving the
// order given.
func Struct(pairs ...StructField) xmlrpc.Value {
	s := xmlrpc.NewStruct()
	for _, p := range pairs {
		s.Set(p.Name, p.Value)
	}
	return xmlrpc.StructValue(s)
}

// StructField is one name/value pair passed to Struct.
type StructField struct {
	Name  string
	Value xmlrpc.Value
}

// Field builds a StructField, for readability at call sites:
// method.Struct(method.Field("Name", method.Str("x"))).
func Field(name string, v xmlrpc.Value) StructField {
	return StructField{Name: name, Value: v}
}
