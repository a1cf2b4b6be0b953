package pipeline

import (
	"github.com/mailru/easyjson/jwriter"
)

// State - состояние жизненного цикла конвейера.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Draining
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	case Draining:
		return "DRAINING"
	default:
		return "UNKNOWN"
	}
}

// Health - снимок состояния для внешней проверки готовности.
type Health struct {
	State            string `json:"state"`
	Running          bool   `json:"running"`
	Pending          int    `json:"pending"`
	Dropped          uint64 `json:"dropped"`
	ExportDropped    uint64 `json:"export_dropped"`
	Exported         uint64 `json:"exported"`
	Connections      int    `json:"connections"`
	SamplerFailures  uint64 `json:"sampler_failures"`
	BroadcastDropped uint64 `json:"broadcast_dropped"`
}

// MarshalEasyJSON реализует easyjson.Marshaler.
func (h Health) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawString(`{"state":`)
	w.String(h.State)
	w.RawString(`,"running":`)
	w.Bool(h.Running)
	w.RawString(`,"pending":`)
	w.Int(h.Pending)
	w.RawString(`,"dropped":`)
	w.Uint64(h.Dropped)
	w.RawString(`,"export_dropped":`)
	w.Uint64(h.ExportDropped)
	w.RawString(`,"exported":`)
	w.Uint64(h.Exported)
	w.RawString(`,"connections":`)
	w.Int(h.Connections)
	w.RawString(`,"sampler_failures":`)
	w.Uint64(h.SamplerFailures)
	w.RawString(`,"broadcast_dropped":`)
	w.Uint64(h.BroadcastDropped)
	w.RawByte('}')
}

// MarshalJSON реализует json.Marshaler.
func (h Health) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	h.MarshalEasyJSON(&w)
	return w.Buffer.BuildBytes(), w.Error
}
