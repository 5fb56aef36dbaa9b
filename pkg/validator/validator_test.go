package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Title   string `json:"title" validate:"required,max=5"`
	Urgency string `json:"urgency_level" validate:"required,oneof=LOW HIGH"`
	Minutes int    `json:"duration_minutes" validate:"min=5"`
}

func TestValidate_ReportsJSONFieldNames(t *testing.T) {
	err := New().Validate(sample{Title: "too long title", Urgency: "MEH", Minutes: 1})
	require.Error(t, err)

	var verr *Error
	require.True(t, errors.As(err, &verr))
	fields := map[string]string{}
	for _, f := range verr.Fields {
		fields[f.Field] = f.Rule
	}
	assert.Equal(t, map[string]string{
		"title":            "max",
		"urgency_level":    "oneof",
		"duration_minutes": "min",
	}, fields)
	assert.Contains(t, err.Error(), "urgency_level must be one of [LOW HIGH]")
}

func TestValidate_Valid(t *testing.T) {
	assert.NoError(t, New().Validate(&sample{Title: "ok", Urgency: "LOW", Minutes: 30}))
}
