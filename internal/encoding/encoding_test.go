package encoding

import (
	"math"
	"testing"
)

func TestEncodeDecodeVector(t *testing.T) {
	original := []float32{0.25, -1.5, 3.75, 0.0, 42.0}

	data, err := EncodeVector(original)
	if err != nil {
		t.Fatalf("EncodeVector failed: %v", err)
	}
	if len(data) != 4+4*len(original) {
		t.Errorf("Expected %d bytes, got %d", 4+4*len(original), len(data))
	}

	decoded, err := DecodeVector(data)
	if err != nil {
		t.Fatalf("DecodeVector failed: %v", err)
	}
	if len(decoded) != len(original) {
		t.Fatalf("Expected %d elements, got %d", len(original), len(decoded))
	}
	for i := range original {
		if decoded[i] != original[i] {
			t.Errorf("Element %d: expected %f, got %f", i, original[i], decoded[i])
		}
	}
}

func TestEncodeVectorInvalid(t *testing.T) {
	cases := []struct {
		name   string
		vector []float32
	}{
		{"nil", nil},
		{"empty", []float32{}},
		{"nan", []float32{1.0, float32(math.NaN())}},
		{"inf", []float32{float32(math.Inf(1))}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := EncodeVector(tc.vector); err == nil {
				t.Errorf("Expected error for %s vector", tc.name)
			}
		})
	}
}

func TestDecodeVectorInvalid(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"nil", nil},
		{"too short", []byte{1, 0}},
		{"truncated payload", []byte{3, 0, 0, 0, 1, 2, 3, 4}},
		{"trailing bytes", append([]byte{1, 0, 0, 0}, make([]byte, 8)...)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeVector(tc.data); err == nil {
				t.Errorf("Expected error for %s blob", tc.name)
			}
		})
	}
}
