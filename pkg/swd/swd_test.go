package swd

import "testing"

func TestRequest(t *testing.T) {
	tests := []struct {
		name string
		ap   bool
		read bool
		addr uint8
		want byte
	}{
		// Start and park bits are always set; parity covers APnDP/RnW/A[3:2].
		{"dp write 0", false, false, 0x0, 0x81},
		{"dp read 0 (IDCODE)", false, true, 0x0, 0xA5},
		{"dp read 4", false, true, 0x4, 0x8D},
		{"dp write 8", false, false, 0x8, 0xB1},
		{"ap read 0", true, true, 0x0, 0x87},
		{"ap write 4", true, false, 0x4, 0x8B},
		{"ap read c", true, true, 0xC, 0x9F},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Request(tt.ap, tt.read, tt.addr); got != tt.want {
				t.Errorf("Request(%v, %v, %#x) = %#02x, want %#02x", tt.ap, tt.read, tt.addr, got, tt.want)
			}
		})
	}
}

func TestParity32(t *testing.T) {
	tests := []struct {
		value uint32
		want  byte
	}{
		{0x00000000, 0},
		{0x00000001, 1},
		{0x00000003, 0},
		{0xFFFFFFFF, 0},
		{0x2BA01477, 0},
		{0x80000000, 1},
	}
	for _, tt := range tests {
		if got := Parity32(tt.value); got != tt.want {
			t.Errorf("Parity32(%#08x) = %d, want %d", tt.value, got, tt.want)
		}
	}
}
