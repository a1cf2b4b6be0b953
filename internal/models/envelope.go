package models

import (
	"time"

	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jwriter"
)

// MessageType - тип сообщения, отправляемого подписчикам.
type MessageType string

const (
	// MessageMetrics - полный снимок метрик от сэмплера.
	MessageMetrics MessageType = "metrics"

	// MessageMetricsUpdate - инкрементальное обновление от производителей.
	MessageMetricsUpdate MessageType = "metrics_update"
)

// Envelope - сообщение сервер→клиент:
//
//	{"type": "metrics", "data": {"points": [...]}, "timestamp": "2006-01-02T15:04:05Z"}
//
// Для персональных представлений data дополнительно содержит subscriber_id.
type Envelope struct {
	Type         MessageType
	Points       []Point
	SubscriberID string
	Timestamp    time.Time
}

// MarshalEasyJSON реализует easyjson.Marshaler.
func (e Envelope) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawString(`{"type":`)
	w.String(string(e.Type))
	w.RawString(`,"data":{"points":[`)
	for i, p := range e.Points {
		if i > 0 {
			w.RawByte(',')
		}
		p.MarshalEasyJSON(w)
	}
	w.RawByte(']')
	if e.SubscriberID != "" {
		w.RawString(`,"subscriber_id":`)
		w.String(e.SubscriberID)
	}
	w.RawString(`},"timestamp":`)
	w.String(e.Timestamp.UTC().Format(time.RFC3339Nano))
	w.RawByte('}')
}

// MarshalJSON реализует json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	e.MarshalEasyJSON(&w)
	return w.Buffer.BuildBytes(), w.Error
}

// Encode сериализует сообщение для отправки по сети.
func (e Envelope) Encode() ([]byte, error) {
	return easyjson.Marshal(e)
}
