//go:build linux

package v4l2

import (
	"testing"
)

func TestFormatFourCC(t *testing.T) {
	tests := []struct {
		name     string
		format   uint32
		expected string
	}{
		{
			name:     "NV12 format",
			format:   PixFmtNV12,
			expected: "NV12",
		},
		{
			name:     "IPU3 BGGR Bayer format",
			format:   PixFmtIPU3SBGGR10,
			expected: "ip3b",
		},
		{
			name:     "IPU3 GBRG Bayer format",
			format:   PixFmtIPU3SGBRG10,
			expected: "ip3g",
		},
		{
			name:     "IPU3 GRBG Bayer format",
			format:   PixFmtIPU3SGRBG10,
			expected: "ip3G",
		},
		{
			name:     "IPU3 RGGB Bayer format",
			format:   PixFmtIPU3SRGGB10,
			expected: "ip3r",
		},
		{
			name:     "null bytes",
			format:   0x00000000,
			expected: "\x00\x00\x00\x00",
		},
		{
			name:     "mixed bytes",
			format:   0x01020304,
			expected: "\x04\x03\x02\x01",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatFourCC(tt.format)
			if result != tt.expected {
				t.Errorf("FormatFourCC(0x%08X) = %q, want %q", tt.format, result, tt.expected)
			}
		})
	}
}

func TestBufferStatusString(t *testing.T) {
	tests := []struct {
		status   BufferStatus
		expected string
	}{
		{BufferSuccess, "success"},
		{BufferError, "error"},
		{BufferCancelled, "cancelled"},
		{BufferStatus(42), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.status.String(); got != tt.expected {
				t.Errorf("BufferStatus(%d).String() = %q, want %q", tt.status, got, tt.expected)
			}
		})
	}
}
