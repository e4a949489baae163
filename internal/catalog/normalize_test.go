package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Offer-Sent ", "offer sent"},
		{"phone_screen", "phone screen"},
		{"  Technical   Interview!! ", "technical interview"},
		{"Café Crème", "cafe creme"},
		{"José", "jose"},
		{"A.I. Engineer", "a i engineer"},
		{"---", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeText(tt.in))
		})
	}
}
