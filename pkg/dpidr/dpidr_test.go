package dpidr

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  uint32
		want DPIDR
	}{
		{
			name: "cortex-m4 dpv1",
			raw:  0x2BA01477,
			want: DPIDR{Raw: 0x2BA01477, Revision: 2, PartNo: 0xBA, Version: 1, Designer: 0x23B},
		},
		{
			name: "cortex-m33 dpv2",
			raw:  0x6BA02477,
			want: DPIDR{Raw: 0x6BA02477, Revision: 6, PartNo: 0xBA, Version: 2, Designer: 0x23B},
		},
		{
			name: "minimal dp",
			raw:  0x0BC11477,
			want: DPIDR{Raw: 0x0BC11477, Revision: 0, PartNo: 0xBC, Min: true, Version: 1, Designer: 0x23B},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.raw)
			if got != tt.want {
				t.Fatalf("Parse(%#08x) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestLookupDesigner(t *testing.T) {
	d, ok := LookupDesigner(0x23B)
	if !ok {
		t.Fatalf("ARM designer code not found")
	}
	if d.Abbreviation != "ARM" {
		t.Fatalf("abbreviation = %s, want ARM", d.Abbreviation)
	}

	d, ok = LookupDesigner(0x7FF)
	if ok {
		t.Fatalf("unknown code reported as found")
	}
	if d.Name != "Unknown (0x7FF)" {
		t.Fatalf("unknown name = %q", d.Name)
	}
}
