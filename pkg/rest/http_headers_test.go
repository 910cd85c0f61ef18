package rest

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrefer(t *testing.T) {
	tests := []struct {
		header string
		want   *Prefer
	}{
		{"", nil},
		{"return=representation", &Prefer{Return: "representation"}},
		{`return="Representation", count=exact`, &Prefer{Return: "representation", Count: "exact"}},
		{"count=planned", &Prefer{Return: "minimal", Count: "planned"}},
		{"return=everything, count=some", &Prefer{Return: "minimal"}},
		{"handling=strict", &Prefer{Return: "minimal"}},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Prefer", tt.header)
			}
			got := parsePrefer(r)
			if tt.want == nil {
				require.Nil(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPreferNil(t *testing.T) {
	var p *Prefer
	assert.False(t, p.WantsRepresentation())
	assert.False(t, p.WantsCount())
}

func TestContentRange(t *testing.T) {
	assert.Equal(t, "0-9/42", contentRange(0, 10, 42))
	assert.Equal(t, "40-41/42", contentRange(40, 2, 42))
	assert.Equal(t, "*/0", contentRange(0, 0, 0))
	assert.Equal(t, "*/42", contentRange(100, 0, 42))
}
