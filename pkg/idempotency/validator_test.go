package idempotency

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"uuid", "550e8400-e29b-41d4-a716-446655440000", nil},
		{"underscores", "usage_site_a_1", nil},
		{"empty", "", ErrKeyRequired},
		{"spaces", "usage 1", ErrKeyInvalid},
		{"special characters", "usage@1", ErrKeyInvalid},
		{"max length", strings.Repeat("a", DefaultMaxKeyLength), nil},
		{"too long", strings.Repeat("a", DefaultMaxKeyLength+1), ErrKeyTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestComputeFingerprint(t *testing.T) {
	a := ComputeFingerprint([]byte("POST"), []byte("/transfers"), []byte(`{"quantity":5}`))

	assert.Len(t, a, 64)
	assert.Equal(t, a, ComputeFingerprint([]byte("POST"), []byte("/transfers"), []byte(`{"quantity":5}`)))
	assert.NotEqual(t, a, ComputeFingerprint([]byte("POST"), []byte("/stock/usage"), []byte(`{"quantity":5}`)))
	assert.NotEqual(t,
		ComputeFingerprint([]byte("ab"), []byte("c")),
		ComputeFingerprint([]byte("a"), []byte("bc")),
	)
	// 8-byte big-endian length, then the bytes; stored fingerprints depend on it
	assert.Equal(t, "c3494ca1a2cf8eeb8a11ded316fb55b83c3bbbedb6313cd50415251e5d09e12f", ComputeFingerprint([]byte("abc")))
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "usage-1", NormalizeKey("  usage-1\t"))
	assert.Equal(t, "", NormalizeKey("   "))
}

func BenchmarkComputeFingerprint(b *testing.B) {
	body := []byte(`{"name":"Cement","quantity":40,"fromLocation":"company","toLocation":"site-a"}`)
	for i := 0; i < b.N; i++ {
		ComputeFingerprint([]byte("POST"), []byte("/transfers"), body)
	}
}
