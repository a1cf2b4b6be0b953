package models

import (
	"errors"

	"github.com/google/uuid"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// Кодеки написаны на jwriter/jlexer вручную: поля Point закрыты, а метки
// должны сериализоваться как JSON-объект с сохранением порядка.

// MarshalEasyJSON реализует easyjson.Marshaler.
func (l Labels) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawByte('{')
	for i, lb := range l {
		if i > 0 {
			w.RawByte(',')
		}
		w.String(lb.Name)
		w.RawByte(':')
		w.String(lb.Value)
	}
	w.RawByte('}')
}

// UnmarshalEasyJSON реализует easyjson.Unmarshaler.
func (l *Labels) UnmarshalEasyJSON(in *jlexer.Lexer) {
	if in.IsNull() {
		in.Skip()
		*l = nil
		return
	}
	out := Labels{}
	in.Delim('{')
	for !in.IsDelim('}') {
		name := in.String()
		in.WantColon()
		value := in.String()
		out = out.With(name, value)
		in.WantComma()
	}
	in.Delim('}')
	*l = out
}

// MarshalJSON реализует json.Marshaler.
func (l Labels) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	l.MarshalEasyJSON(&w)
	return w.Buffer.BuildBytes(), w.Error
}

// UnmarshalJSON реализует json.Unmarshaler.
func (l *Labels) UnmarshalJSON(data []byte) error {
	r := jlexer.Lexer{Data: data}
	l.UnmarshalEasyJSON(&r)
	return r.Error()
}

// MarshalEasyJSON реализует easyjson.Marshaler.
func (p Point) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawString(`{"id":`)
	w.String(p.id)
	w.RawString(`,"name":`)
	w.String(p.name)
	w.RawString(`,"value":`)
	w.Float64(p.value)
	w.RawString(`,"kind":`)
	w.String(string(p.kind))
	w.RawString(`,"labels":`)
	p.labels.MarshalEasyJSON(w)
	w.RawString(`,"timestamp":`)
	w.Raw(p.timestamp.MarshalJSON())
	w.RawByte('}')
}

// UnmarshalEasyJSON реализует easyjson.Unmarshaler. Неизвестные поля пропускаются.
func (p *Point) UnmarshalEasyJSON(in *jlexer.Lexer) {
	isTopLevel := in.IsStart()
	if in.IsNull() {
		if isTopLevel {
			in.Consumed()
		}
		in.Skip()
		return
	}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "id":
			p.id = in.String()
		case "name":
			p.name = in.String()
		case "value":
			p.value = in.Float64()
		case "kind", "type":
			k, err := ParseKind(in.String())
			if err != nil {
				in.AddError(err)
			}
			p.kind = k
		case "labels":
			p.labels.UnmarshalEasyJSON(in)
		case "timestamp":
			if data := in.Raw(); in.Ok() {
				if err := p.timestamp.UnmarshalJSON(data); err != nil {
					in.AddError(err)
				}
			}
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	if isTopLevel {
		in.Consumed()
	}
}

// MarshalJSON реализует json.Marshaler.
func (p Point) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	p.MarshalEasyJSON(&w)
	return w.Buffer.BuildBytes(), w.Error
}

// UnmarshalJSON реализует json.Unmarshaler.
func (p *Point) UnmarshalJSON(data []byte) error {
	r := jlexer.Lexer{Data: data}
	p.UnmarshalEasyJSON(&r)
	return r.Error()
}

var errNotArray = errors.New("expected a JSON array of metric points")

// DecodePoints разбирает JSON-массив точек. Точкам без идентификатора назначается новый.
func DecodePoints(data []byte) ([]Point, error) {
	in := jlexer.Lexer{Data: data}
	if in.IsNull() {
		in.Skip()
		return nil, in.Error()
	}
	if !in.IsDelim('[') {
		return nil, errNotArray
	}

	var out []Point
	in.Delim('[')
	for !in.IsDelim(']') {
		var p Point
		p.UnmarshalEasyJSON(&in)
		if p.id == "" {
			p.id = uuid.NewString()
		}
		out = append(out, p)
		in.WantComma()
	}
	in.Delim(']')
	in.Consumed()

	if err := in.Error(); err != nil {
		return nil, err
	}
	return out, nil
}
