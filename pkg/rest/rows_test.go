package rest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSerializeRow(t *testing.T) {
	row := serializeRow(
		[]string{"id_spotkania", "temat", "data_spotkania", "opis"},
		[]any{int32(1), "Budżet", time.Date(2025, 3, 14, 17, 30, 5, 0, time.UTC), nil},
	)
	assert.Equal(t, map[string]any{
		"id_spotkania":   int32(1),
		"temat":          "Budżet",
		"data_spotkania": "2025-03-14 17:30:05",
		"opis":           nil,
	}, row)
}
