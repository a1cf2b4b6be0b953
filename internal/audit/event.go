package audit

import (
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// DropEvent - запись журнала о потерянном пакете экспорта.
type DropEvent struct {
	TS          int64    `json:"ts"`
	Points      int      `json:"points"`
	Reason      string   `json:"reason"`
	FirstID     string   `json:"first_id,omitempty"`
	LastID      string   `json:"last_id,omitempty"`
	MetricNames []string `json:"metric_names"`
}

// MarshalEasyJSON реализует easyjson.Marshaler.
func (ev DropEvent) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawString(`{"ts":`)
	w.Int64(ev.TS)
	w.RawString(`,"points":`)
	w.Int(ev.Points)
	w.RawString(`,"reason":`)
	w.String(ev.Reason)
	if ev.FirstID != "" {
		w.RawString(`,"first_id":`)
		w.String(ev.FirstID)
	}
	if ev.LastID != "" {
		w.RawString(`,"last_id":`)
		w.String(ev.LastID)
	}
	w.RawString(`,"metric_names":[`)
	for i, name := range ev.MetricNames {
		if i > 0 {
			w.RawByte(',')
		}
		w.String(name)
	}
	w.RawString(`]}`)
}

// UnmarshalEasyJSON реализует easyjson.Unmarshaler.
func (ev *DropEvent) UnmarshalEasyJSON(in *jlexer.Lexer) {
	if in.IsNull() {
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
		case "ts":
			ev.TS = in.Int64()
		case "points":
			ev.Points = in.Int()
		case "reason":
			ev.Reason = in.String()
		case "first_id":
			ev.FirstID = in.String()
		case "last_id":
			ev.LastID = in.String()
		case "metric_names":
			ev.MetricNames = ev.MetricNames[:0]
			in.Delim('[')
			for !in.IsDelim(']') {
				ev.MetricNames = append(ev.MetricNames, in.String())
				in.WantComma()
			}
			in.Delim(']')
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
}

// MarshalJSON реализует json.Marshaler.
func (ev DropEvent) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	ev.MarshalEasyJSON(&w)
	return w.Buffer.BuildBytes(), w.Error
}

// UnmarshalJSON реализует json.Unmarshaler.
func (ev *DropEvent) UnmarshalJSON(data []byte) error {
	r := jlexer.Lexer{Data: data}
	ev.UnmarshalEasyJSON(&r)
	return r.Error()
}
