package xmlrpc

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DecodeError reports a malformed XML-RPC payload. It is always
// non-terminal: it affects only the one call or callback being decoded.
type DecodeError struct {
	Detail string
}

func (e *DecodeError) Error() string {
	return "xmlrpc: decode: " + e.Detail
}

func decodeErr(format string, args ...any) error {
	return &DecodeError{Detail: fmt.Sprintf(format, args...)}
}

// Decoder parses XML-RPC bodies. A zero Decoder is usable; Warnings
// accumulates non-fatal issues encountered while decoding, such as
// duplicate struct member names.
type Decoder struct {
	Warnings []string
}

func (d *Decoder) warnf(format string, args ...any) {
	d.Warnings = append(d.Warnings, fmt.Sprintf(format, args...))
}

// DecodeCall parses a <methodCall> body — used both for outgoing request
// echoes in tests and for incoming server callbacks.
func (d *Decoder) DecodeCall(body []byte) (*MethodCall, error) {
	dec := xml.NewDecoder(strings.NewReader(string(body)))

	if err := expectStart(dec, "methodCall"); err != nil {
		return nil, err
	}

	call := &MethodCall{}
	for {
		tok, err := nextElement(dec)
		if err != nil {
			return nil, err
		}
		if tok == nil {
			break
		}
		switch tok.Name.Local {
		case "methodName":
			name, err := readCharData(dec)
			if err != nil {
				return nil, err
			}
			call.Name = name
		case "params":
			params, err := d.decodeParams(dec)
			if err != nil {
				return nil, err
			}
			call.Params = params
		default:
			if err := skipElement(dec); err != nil {
				return nil, err
			}
		}
	}

	if call.Name == "" {
		return nil, decodeErr("methodCall missing methodName")
	}
	return call, nil
}

// DecodeResponse parses a <methodResponse> body into either a value or a
// fault.
func (d *Decoder) DecodeResponse(body []byte) (*Response, error) {
	dec := xml.NewDecoder(strings.NewReader(string(body)))

	if err := expectStart(dec, "methodResponse"); err != nil {
		return nil, err
	}

	tok, err := nextElement(dec)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, decodeErr("methodResponse has no params or fault")
	}

	switch tok.Name.Local {
	case "params":
		values, err := d.decodeParams(dec)
		if err != nil {
			return nil, err
		}
		if len(values) != 1 {
			return nil, decodeErr("methodResponse params: want exactly 1, got %d", len(values))
		}
		return &Response{Value: values[0]}, nil
	case "fault":
		val, err := d.decodeOneValue(dec)
		if err != nil {
			return nil, err
		}
		s, ok := val.AsStruct()
		if !ok {
			return nil, decodeErr("fault value is not a struct")
		}
		fault, err := structToFault(s)
		if err != nil {
			return nil, err
		}
		if err := skipToEnd(dec, "fault"); err != nil {
			return nil, err
		}
		return &Response{Fault: fault}, nil
	default:
		return nil, decodeErr("unexpected element %q in methodResponse", tok.Name.Local)
	}
}

func structToFault(s *Struct) (*Fault, error) {
	codeVal, ok := s.Get("faultCode")
	if !ok {
		return nil, decodeErr("fault struct missing faultCode")
	}
	code, ok := codeVal.Int()
	if !ok {
		return nil, decodeErr("fault faultCode is not an integer")
	}
	msgVal, ok := s.Get("faultString")
	if !ok {
		return nil, decodeErr("fault struct missing faultString")
	}
	msg, ok := msgVal.AsString()
	if !ok {
		return nil, decodeErr("fault faultString is not a string")
	}
	return &Fault{Code: code, Message: msg}, nil
}

// decodeParams reads a <params>...</params> element already positioned just
// after its start tag, returning each <param><value> in order.
func (d *Decoder) decodeParams(dec *xml.Decoder) ([]Value, error) {
	var values []Value
	for {
		tok, err := nextElement(dec)
		if err != nil {
			return nil, err
		}
		if tok == nil {
			break
		}
		if tok.Name.Local != "param" {
			return nil, decodeErr("unexpected element %q in params", tok.Name.Local)
		}
		v, err := d.decodeOneValue(dec)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if err := skipToEnd(dec, "param"); err != nil {
			return nil, err
		}
	}
	return values, nil
}

// decodeOneValue reads a single <value>...</value> positioned immediately
// inside its enclosing element (param, member, data). It consumes the
// <value> element entirely, including its end tag.
func (d *Decoder) decodeOneValue(dec *xml.Decoder) (Value, error) {
	tok, err := nextElement(dec)
	if err != nil {
		return Value{}, err
	}
	if tok == nil || tok.Name.Local != "value" {
		return Value{}, decodeErr("expected <value>, got %v", tok)
	}
	return d.decodeValueBody(dec)
}

// decodeValueBody parses the content of a <value> element (already
// consumed its start tag) and consumes its end tag.
func (d *Decoder) decodeValueBody(dec *xml.Decoder) (Value, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, errors.Wrap(err, "xmlrpc: read value body")
		}

		switch t := tok.(type) {
		case xml.CharData:
			text := strings.TrimSpace(string(t))
			if text == "" {
				continue // insignificant whitespace before a typed child
			}
			// Bare text inside <value> with no typed child is a string.
			if err := skipToEnd(dec, "value"); err != nil {
				return Value{}, err
			}
			return Str(text), nil
		case xml.EndElement:
			// <value></value> with no content at all: empty string.
			return Str(""), nil
		case xml.StartElement:
			v, err := d.decodeTyped(dec, t.Name.Local)
			if err != nil {
				return Value{}, err
			}
			if err := skipToEnd(dec, "value"); err != nil {
				return Value{}, err
			}
			return v, nil
		default:
			return Value{}, decodeErr("unexpected token in value")
		}
	}
}

func (d *Decoder) decodeTyped(dec *xml.Decoder, tag string) (Value, error) {
	switch tag {
	case "i4", "int":
		text, err := readCharData(dec)
		if err != nil {
			return Value{}, err
		}
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 32)
		if err != nil {
			return Value{}, decodeErr("invalid integer %q: %v", text, err)
		}
		return Int(int32(n)), nil
	case "boolean":
		text, err := readCharData(dec)
		if err != nil {
			return Value{}, err
		}
		switch strings.TrimSpace(text) {
		case "0":
			return Bool(false), nil
		case "1":
			return Bool(true), nil
		default:
			return Value{}, decodeErr("invalid boolean literal %q", text)
		}
	case "string":
		text, err := readCharData(dec)
		if err != nil {
			return Value{}, err
		}
		return Str(text), nil
	case "double":
		text, err := readCharData(dec)
		if err != nil {
			return Value{}, err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return Value{}, decodeErr("invalid double %q: %v", text, err)
		}
		return Double(f), nil
	case "dateTime.iso8601":
		text, err := readCharData(dec)
		if err != nil {
			return Value{}, err
		}
		t, err := time.Parse(isoLayout, strings.TrimSpace(text))
		if err != nil {
			return Value{}, decodeErr("invalid dateTime.iso8601 %q: %v", text, err)
		}
		return Time(t), nil
	case "base64":
		text, err := readCharData(dec)
		if err != nil {
			return Value{}, err
		}
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(text))
		if err != nil {
			return Value{}, decodeErr("invalid base64: %v", err)
		}
		return Base64(raw), nil
	case "array":
		return d.decodeArray(dec)
	case "struct":
		return d.decodeStruct(dec)
	default:
		return Value{}, decodeErr("unsupported value type %q", tag)
	}
}

func (d *Decoder) decodeArray(dec *xml.Decoder) (Value, error) {
	tok, err := nextElement(dec)
	if err != nil {
		return Value{}, err
	}
	if tok == nil || tok.Name.Local != "data" {
		return Value{}, decodeErr("array missing <data>")
	}

	var elems []Value
	for {
		peek, err := nextElement(dec)
		if err != nil {
			return Value{}, err
		}
		if peek == nil {
			break
		}
		if peek.Name.Local != "value" {
			return Value{}, decodeErr("unexpected element %q in array data", peek.Name.Local)
		}
		v, err := d.decodeValueBody(dec)
		if err != nil {
			return Value{}, err
		}
		elems = append(elems, v)
	}

	if err := skipToEnd(dec, "array"); err != nil {
		return Value{}, err
	}
	return Array(elems...), nil
}

func (d *Decoder) decodeStruct(dec *xml.Decoder) (Value, error) {
	s := NewStruct()
	for {
		tok, err := nextElement(dec)
		if err != nil {
			return Value{}, err
		}
		if tok == nil {
			break
		}
		if tok.Name.Local != "member" {
			return Value{}, decodeErr("unexpected element %q in struct", tok.Name.Local)
		}

		nameTok, err := nextElement(dec)
		if err != nil {
			return Value{}, err
		}
		if nameTok == nil || nameTok.Name.Local != "name" {
			return Value{}, decodeErr("member missing <name>")
		}
		name, err := readCharData(dec)
		if err != nil {
			return Value{}, err
		}

		v, err := d.decodeOneValue(dec)
		if err != nil {
			return Value{}, err
		}

		if _, exists := s.Get(name); exists {
			d.warnf("struct has duplicate member %q, keeping last value", name)
		}
		s.Set(name, v)

		if err := skipToEnd(dec, "member"); err != nil {
			return Value{}, err
		}
	}
	return StructValue(s), nil
}

// --- low-level XML token helpers ---

func expectStart(dec *xml.Decoder, name string) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				return decodeErr("expected <%s>, reached end of document", name)
			}
			return errors.Wrapf(err, "xmlrpc: read %s", name)
		}
		if start, ok := tok.(xml.StartElement); ok {
			if start.Name.Local != name {
				return decodeErr("expected <%s>, got <%s>", name, start.Name.Local)
			}
			return nil
		}
	}
}

// nextElement returns the next StartElement at the current nesting depth, or
// nil once the enclosing element's EndElement is reached.
func nextElement(dec *xml.Decoder) (*xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				return nil, nil
			}
			return nil, errors.Wrap(err, "xmlrpc: read token")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			start := t.Copy()
			return &start, nil
		case xml.EndElement:
			return nil, nil
		case xml.CharData:
			if len(strings.TrimSpace(string(t))) != 0 {
				return nil, decodeErr("unexpected character data %q", string(t))
			}
		}
	}
}

// skipElement discards an element's subtree; it assumes the start tag was
// already consumed by the caller and returns after the matching end tag.
func skipElement(dec *xml.Decoder) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return errors.Wrap(err, "xmlrpc: skip element")
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return nil
}

// skipToEnd consumes tokens up to and including the EndElement named name,
// used after decoding a value's content to discard any trailing whitespace
// and the closing tag itself.
func skipToEnd(dec *xml.Decoder, name string) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return errors.Wrapf(err, "xmlrpc: close %s", name)
		}
		if end, ok := tok.(xml.EndElement); ok {
			if end.Name.Local == name {
				return nil
			}
		}
	}
}

// readCharData reads a leaf element's text content and consumes its end
// tag. It assumes the caller already consumed the element's start tag.
func readCharData(dec *xml.Decoder) (string, error) {
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", errors.Wrap(err, "xmlrpc: read char data")
		}
		switch t := tok.(type) {
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			return text.String(), nil
		}
	}
}
