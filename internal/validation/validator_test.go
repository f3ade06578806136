package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type operatorRequest struct {
	Name   string `json:"name" validate:"required,max=8"`
	Prefix string `json:"prefix" validate:"required,prefix"`
	Color  string `json:"color" validate:"hexcolor"`
	Type   string `json:"type" validate:"oneof=dev_addr join_eui"`
}

func TestValidate(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		req     operatorRequest
		wantErr string
	}{
		{"valid", operatorRequest{Name: "Acme", Prefix: "26011", Color: "#ff0000", Type: "dev_addr"}, ""},
		{"optional fields empty", operatorRequest{Name: "Acme", Prefix: "E0000000/3"}, ""},
		{"missing name", operatorRequest{Name: "  ", Prefix: "26"}, "name: field is required"},
		{"long name", operatorRequest{Name: "Acme Networks", Prefix: "26"}, "name: maximum length is 8"},
		{"bad prefix", operatorRequest{Name: "Acme", Prefix: "xyz"}, "prefix:"},
		{"bad color", operatorRequest{Name: "Acme", Prefix: "26", Color: "red"}, "color:"},
		{"bad type", operatorRequest{Name: "Acme", Prefix: "26", Type: "dev_eui"}, "type: must be one of"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(&tt.req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateNonStruct(t *testing.T) {
	assert.Error(t, NewValidator().Validate("x"))
}
