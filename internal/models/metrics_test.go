package models

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelsKeepOrder(t *testing.T) {
	l := L("method", "GET", "endpoint", "/properties/{id}", "status_code", "200")

	data, err := json.Marshal(l)
	require.NoError(t, err)
	assert.Equal(t, `{"method":"GET","endpoint":"/properties/{id}","status_code":"200"}`, string(data))

	var back Labels
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, l, back)
}

func TestLabelsWithAndMerge(t *testing.T) {
	base := L("service", "property-management", "environment", "development")
	own := L("environment", "production", "method", "POST")

	merged := own.Merge(base)
	assert.Equal(t, L("service", "property-management", "environment", "production", "method", "POST"), merged)

	v, ok := merged.Get("environment")
	assert.True(t, ok)
	assert.Equal(t, "production", v)

	// исходные наборы не изменились
	assert.Equal(t, L("service", "property-management", "environment", "development"), base)
}

func TestPointIsImmutable(t *testing.T) {
	labels := L("owner_id", "42")
	p := NewGauge("properties.vacancy_rate_percentage", 12.5, labels)

	labels[0].Value = "changed"
	got := p.Labels()
	got[0].Value = "changed too"

	v, _ := p.Labels().Get("owner_id")
	assert.Equal(t, "42", v)
	assert.NotEmpty(t, p.ID())

	q := p.WithLabel("status", "active")
	assert.Len(t, p.Labels(), 1)
	assert.Len(t, q.Labels(), 2)
	assert.Equal(t, p.ID(), q.ID())
}

func TestPointValidate(t *testing.T) {
	ts := time.Now()
	tests := []struct {
		name    string
		point   Point
		wantErr bool
	}{
		{name: "valid gauge", point: NewPoint("a.b", Gauge, 1, nil, ts)},
		{name: "valid counter", point: NewPoint("a.b", Counter, 1, nil, ts)},
		{name: "empty name", point: NewPoint(" ", Gauge, 1, nil, ts), wantErr: true},
		{name: "unknown kind", point: NewPoint("a.b", Kind("RATE"), 1, nil, ts), wantErr: true},
		{name: "nan", point: NewPoint("a.b", Gauge, math.NaN(), nil, ts), wantErr: true},
		{name: "inf", point: NewPoint("a.b", Gauge, math.Inf(1), nil, ts), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.point.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecodePoints(t *testing.T) {
	body := `[
		{"name":"property-service.http.requests_total","value":1,"kind":"counter","labels":{"method":"GET","status_code":"200"},"timestamp":"2024-05-01T10:00:00Z"},
		{"id":"fixed-id","name":"payments.amount_rub","value":1500.5,"kind":"GAUGE","unknown":{"nested":[1,2]}}
	]`

	points, err := DecodePoints([]byte(body))
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.Equal(t, Counter, points[0].Kind())
	assert.NotEmpty(t, points[0].ID())
	assert.Equal(t, L("method", "GET", "status_code", "200"), points[0].Labels())
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), points[0].Timestamp().UTC())

	assert.Equal(t, "fixed-id", points[1].ID())
	assert.Equal(t, 1500.5, points[1].Value())
	assert.True(t, points[1].Timestamp().IsZero())
}

func TestDecodePointsErrors(t *testing.T) {
	_, err := DecodePoints([]byte(`{"name":"x"}`))
	assert.Error(t, err)

	_, err = DecodePoints([]byte(`[{"name":"x","kind":"histogram","value":1}]`))
	assert.Error(t, err)

	_, err = DecodePoints([]byte(`[{"name":"x",`))
	assert.Error(t, err)
}

func TestEnvelopeEncode(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	p := NewPoint("properties.total_count", Gauge, 10, L("owner_id", "7"), ts)

	data, err := Envelope{
		Type:         MessageMetrics,
		Points:       []Point{p},
		SubscriberID: "7",
		Timestamp:    ts,
	}.Encode()
	require.NoError(t, err)

	var msg struct {
		Type string `json:"type"`
		Data struct {
			Points       []Point `json:"points"`
			SubscriberID string  `json:"subscriber_id"`
		} `json:"data"`
		Timestamp string `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))

	assert.Equal(t, "metrics", msg.Type)
	assert.Equal(t, "2024-05-01T10:00:00Z", msg.Timestamp)
	assert.Equal(t, "7", msg.Data.SubscriberID)
	require.Len(t, msg.Data.Points, 1)
	assert.Equal(t, p.ID(), msg.Data.Points[0].ID())
	assert.Equal(t, p.Labels(), msg.Data.Points[0].Labels())
}
