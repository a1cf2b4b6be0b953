package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown flag", args: []string{"--no-such-flag"}},
		{name: "size trigger over capacity", args: []string{"--size-trigger", "10", "--buffer-capacity", "5"}},
		{name: "missing config file", args: []string{"-c", "/nonexistent/telemetry.json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(tt.args)
			assert.ErrorContains(t, err, "ошибка загрузки конфигурации")
		})
	}
}
