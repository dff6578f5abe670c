package xmlrpc

import (
	"encoding/base64"
	"strconv"
	"strings"
)

const isoLayout = "20060102T15:04:05"

// EncodeCall renders a <methodCall> body for a client request.
func EncodeCall(name string, params []Value) []byte {
	var b strings.Builder
	b.WriteString("<methodCall><methodName>")
	b.WriteString(escape(name))
	b.WriteString("</methodName><params>")
	for _, p := range params {
		b.WriteString("<param>")
		writeValue(&b, p)
		b.WriteString("</param>")
	}
	b.WriteString("</params></methodCall>")
	return []byte(b.String())
}

// EncodeResponse renders a <methodResponse> body carrying a single value.
func EncodeResponse(v Value) []byte {
	var b strings.Builder
	b.WriteString("<methodResponse><params><param>")
	writeValue(&b, v)
	b.WriteString("</param></params></methodResponse>")
	return []byte(b.String())
}

// EncodeFault renders a <methodResponse><fault>...</fault></methodResponse>
// body.
func EncodeFault(f *Fault) []byte {
	s := NewStruct()
	s.Set("faultCode", Int(f.Code))
	s.Set("faultString", Str(f.Message))

	var b strings.Builder
	b.WriteString("<methodResponse><fault>")
	writeValue(&b, StructValue(s))
	b.WriteString("</fault></methodResponse>")
	return []byte(b.String())
}

func writeValue(b *strings.Builder, v Value) {
	b.WriteString("<value>")
	switch v.kind {
	case KindInt:
		b.WriteString("<i4>")
		b.WriteString(strconv.FormatInt(int64(v.i), 10))
		b.WriteString("</i4>")
	case KindBool:
		b.WriteString("<boolean>")
		if v.b {
			b.WriteString("1")
		} else {
			b.WriteString("0")
		}
		b.WriteString("</boolean>")
	case KindString:
		b.WriteString("<string>")
		b.WriteString(escape(v.s))
		b.WriteString("</string>")
	case KindDouble:
		b.WriteString("<double>")
		b.WriteString(strconv.FormatFloat(v.d, 'f', -1, 64))
		b.WriteString("</double>")
	case KindTime:
		b.WriteString("<dateTime.iso8601>")
		b.WriteString(v.t.Format(isoLayout))
		b.WriteString("</dateTime.iso8601>")
	case KindBase64:
		b.WriteString("<base64>")
		b.WriteString(base64.StdEncoding.EncodeToString(v.bytes))
		b.WriteString("</base64>")
	case KindArray:
		b.WriteString("<array><data>")
		for _, el := range v.arr {
			writeValue(b, el)
		}
		b.WriteString("</data></array>")
	case KindStruct:
		b.WriteString("<struct>")
		if v.strct != nil {
			for _, name := range v.strct.names {
				b.WriteString("<member><name>")
				b.WriteString(escape(name))
				b.WriteString("</name>")
				writeValue(b, v.strct.values[name])
				b.WriteString("</member>")
			}
		}
		b.WriteString("</struct>")
	}
	b.WriteString("</value>")
}

func escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
