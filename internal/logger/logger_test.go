package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingRWRecordsResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	lw := NewLoggingRW(rec)

	lw.WriteHeader(http.StatusCreated)
	_, err := lw.Write([]byte("hello"))
	require.NoError(t, err)
	_, err = lw.Write([]byte(" world"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, lw.StatusCode())
	assert.Equal(t, 11, lw.ResponseData.Size)
	assert.Equal(t, "hello world", rec.Body.String())
}

func TestLoggingRWImplicitOK(t *testing.T) {
	lw := NewLoggingRW(httptest.NewRecorder())
	assert.Equal(t, http.StatusOK, lw.StatusCode())

	_, _ = lw.Write([]byte("x"))
	assert.Equal(t, http.StatusOK, lw.ResponseData.Status)
}

func TestLoggingRWHijackUnsupported(t *testing.T) {
	lw := NewLoggingRW(httptest.NewRecorder())
	_, _, err := lw.Hijack()
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{name: "json info", level: "info", format: "json"},
		{name: "console debug", level: "debug", format: "console"},
		{name: "default format", level: "warn", format: ""},
		{name: "bad level", level: "loud", format: "json", wantErr: true},
		{name: "bad format", level: "info", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewLogger(tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}
