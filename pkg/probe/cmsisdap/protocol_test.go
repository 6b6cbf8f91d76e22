package cmsisdap

import (
	"bytes"
	"errors"
	"testing"

	"github.com/OpenTraceLab/OpenTraceSWD/pkg/probe"
)

func TestEncodeTransfer(t *testing.T) {
	p := NewProtocol(64)

	tests := []struct {
		name      string
		transfers []Transfer
		want      []byte
	}{
		{
			name:      "dp read",
			transfers: []Transfer{{Read: true, Addr: 0x0}},
			want:      []byte{CmdTransfer, 0, 1, TransferRnW},
		},
		{
			name:      "ap read with address bits",
			transfers: []Transfer{{AP: true, Read: true, Addr: 0xC}},
			want:      []byte{CmdTransfer, 0, 1, TransferAPnDP | TransferRnW | TransferA2 | TransferA3},
		},
		{
			name:      "dp write",
			transfers: []Transfer{{Addr: 0x4, Value: 0x50000000}},
			want:      []byte{CmdTransfer, 0, 1, TransferA2, 0x00, 0x00, 0x00, 0x50},
		},
		{
			name: "mixed batch",
			transfers: []Transfer{
				{Addr: 0x8, Value: 0x00000000},
				{AP: true, Read: true, Addr: 0x0},
			},
			want: []byte{CmdTransfer, 0, 2,
				TransferA3, 0x00, 0x00, 0x00, 0x00,
				TransferAPnDP | TransferRnW},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.EncodeTransfer(tt.transfers)
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("EncodeTransfer = % 02x, want % 02x", got, tt.want)
			}
		})
	}
}

func TestDecodeTransfer(t *testing.T) {
	p := NewProtocol(64)
	reads := []Transfer{{Read: true, Addr: 0x0}}

	values, err := p.DecodeTransfer([]byte{CmdTransfer, 1, TransferAckOK, 0x77, 0x14, 0xA0, 0x2B}, reads)
	if err != nil {
		t.Fatalf("DecodeTransfer returned error: %v", err)
	}
	if len(values) != 1 || values[0] != 0x2BA01477 {
		t.Fatalf("DecodeTransfer = %#08x, want 0x2ba01477", values)
	}
}

func TestDecodeTransferAckErrors(t *testing.T) {
	p := NewProtocol(64)
	reads := []Transfer{{Read: true, Addr: 0x0}}

	tests := []struct {
		name string
		ack  byte
		want error
	}{
		{"wait maps to timeout", TransferAckWait, probe.ErrTimeout},
		{"fault maps to hardware fault", TransferAckFault, probe.ErrHardwareFault},
		{"protocol error wins over ack bits", TransferProtocolError | TransferAckOK, probe.ErrHardwareFault},
		{"no ack", 0x00, probe.ErrHardwareFault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.DecodeTransfer([]byte{CmdTransfer, 1, tt.ack}, reads)
			if !errors.Is(err, tt.want) {
				t.Fatalf("ack %#02x err = %v, want %v", tt.ack, err, tt.want)
			}
		})
	}
}

func TestDecodeTransferShortCompletion(t *testing.T) {
	p := NewProtocol(64)
	transfers := []Transfer{
		{Read: true, Addr: 0x0},
		{Read: true, Addr: 0x4},
	}

	_, err := p.DecodeTransfer([]byte{CmdTransfer, 1, TransferAckFault}, transfers)
	if !errors.Is(err, probe.ErrHardwareFault) {
		t.Fatalf("short completion err = %v, want ErrHardwareFault", err)
	}
}

func TestTransferBlockRoundTrip(t *testing.T) {
	p := NewProtocol(64)

	cmd := p.EncodeTransferBlock(true, true, 0xC, 2, nil)
	want := []byte{CmdTransferBlock, 0, 2, 0, TransferAPnDP | TransferRnW | TransferA2 | TransferA3}
	if !bytes.Equal(cmd, want) {
		t.Fatalf("EncodeTransferBlock = % 02x, want % 02x", cmd, want)
	}

	resp := []byte{CmdTransferBlock, 2, 0, TransferAckOK,
		0x01, 0x00, 0x00, 0x00,
		0x02, 0x00, 0x00, 0x00}
	values, err := p.DecodeTransferBlock(resp, true, 2)
	if err != nil {
		t.Fatalf("DecodeTransferBlock returned error: %v", err)
	}
	if len(values) != 2 || values[0] != 1 || values[1] != 2 {
		t.Fatalf("DecodeTransferBlock = %v, want [1 2]", values)
	}
}

func TestEncodeTransferBlockWrite(t *testing.T) {
	p := NewProtocol(64)

	cmd := p.EncodeTransferBlock(true, false, 0xC, 1, []uint32{0xDEADBEEF})
	want := []byte{CmdTransferBlock, 0, 1, 0, TransferAPnDP | TransferA2 | TransferA3,
		0xEF, 0xBE, 0xAD, 0xDE}
	if !bytes.Equal(cmd, want) {
		t.Fatalf("EncodeTransferBlock = % 02x, want % 02x", cmd, want)
	}
}

func TestSWJPins(t *testing.T) {
	p := NewProtocol(64)

	cmd := p.EncodeSWJPins(0, PinNRESET, 100)
	want := []byte{CmdSWJPins, 0x00, PinNRESET, 100, 0, 0, 0}
	if !bytes.Equal(cmd, want) {
		t.Fatalf("EncodeSWJPins = % 02x, want % 02x", cmd, want)
	}

	state, err := p.DecodeSWJPins([]byte{CmdSWJPins, PinNRESET | PinSWCLK})
	if err != nil {
		t.Fatalf("DecodeSWJPins returned error: %v", err)
	}
	if state != PinNRESET|PinSWCLK {
		t.Fatalf("pin state = %#02x", state)
	}
}

func TestEncodeSWJSequenceWraps256(t *testing.T) {
	p := NewProtocol(64)
	data := make([]byte, 32)

	cmd := p.EncodeSWJSequence(256, data)
	if cmd[0] != CmdSWJSequence || cmd[1] != 0 {
		t.Fatalf("header = % 02x, want count byte 0 for 256 bits", cmd[:2])
	}
	if len(cmd) != 2+32 {
		t.Fatalf("len = %d, want 34", len(cmd))
	}
}

func TestSWDSequenceCodec(t *testing.T) {
	p := NewProtocol(64)
	seqs := []probe.SWDSequence{
		{Cycles: 8, Data: []byte{0xA5}},
		{Cycles: 12}, // capture
	}

	cmd := p.EncodeSWDSequence(seqs)
	want := []byte{CmdSWDSequence, 2, 8, 0xA5, 12 | swdSeqInput}
	if !bytes.Equal(cmd, want) {
		t.Fatalf("EncodeSWDSequence = % 02x, want % 02x", cmd, want)
	}

	captured, err := p.DecodeSWDSequence([]byte{CmdSWDSequence, StatusOK, 0x34, 0x02}, seqs)
	if err != nil {
		t.Fatalf("DecodeSWDSequence returned error: %v", err)
	}
	if len(captured) != 1 || !bytes.Equal(captured[0], []byte{0x34, 0x02}) {
		t.Fatalf("captured = % 02x, want [34 02]", captured)
	}
}

func TestEncodeSWDSequence64Cycles(t *testing.T) {
	p := NewProtocol(64)
	cmd := p.EncodeSWDSequence([]probe.SWDSequence{{Cycles: 64}})
	if cmd[2] != swdSeqInput {
		t.Fatalf("info byte = %#02x, want cycle field 0 for 64 cycles", cmd[2])
	}
}

func TestDecodeInfoString(t *testing.T) {
	p := NewProtocol(64)

	tests := []struct {
		name string
		resp []byte
		want string
	}{
		{"plain", []byte{CmdInfo, 5, 'v', '2', '.', '0', '0'}, "v2.00"},
		{"nul terminated", []byte{CmdInfo, 6, 'v', '2', '.', '0', '0', 0}, "v2.00"},
		{"empty", []byte{CmdInfo, 0}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.DecodeInfoString(tt.resp)
			if err != nil {
				t.Fatalf("DecodeInfoString returned error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("DecodeInfoString = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := p.DecodeInfoString([]byte{CmdConnect, 0}); !errors.Is(err, probe.ErrHardwareFault) {
		t.Fatalf("wrong command ID not rejected")
	}
}

func TestEncodeSetClock(t *testing.T) {
	p := NewProtocol(64)
	cmd := p.EncodeSetClock(1_000_000)
	want := []byte{CmdSWJClock, 0x40, 0x42, 0x0F, 0x00}
	if !bytes.Equal(cmd, want) {
		t.Fatalf("EncodeSetClock = % 02x, want % 02x", cmd, want)
	}
}

func TestDecodeSWOData(t *testing.T) {
	p := NewProtocol(64)

	data, err := p.DecodeSWOData([]byte{CmdSWOData, 0, 3, 0, 'a', 'b', 'c'})
	if err != nil {
		t.Fatalf("DecodeSWOData returned error: %v", err)
	}
	if !bytes.Equal(data, []byte("abc")) {
		t.Fatalf("DecodeSWOData = %q, want abc", data)
	}

	if _, err := p.DecodeSWOData([]byte{CmdSWOData, 0, 5, 0, 'a'}); !errors.Is(err, probe.ErrHardwareFault) {
		t.Fatalf("truncated data not rejected")
	}

	// The capture-active bit alone is not an error condition.
	if _, err := p.DecodeSWOData([]byte{CmdSWOData, SWOStatusActive, 1, 0, 'a'}); err != nil {
		t.Fatalf("active status rejected: %v", err)
	}

	if _, err := p.DecodeSWOData([]byte{CmdSWOData, SWOStatusActive | SWOStatusOverrun, 1, 0, 'a'}); !errors.Is(err, probe.ErrHardwareFault) {
		t.Fatalf("buffer overrun not surfaced")
	}
	if _, err := p.DecodeSWOData([]byte{CmdSWOData, SWOStatusError, 0, 0}); !errors.Is(err, probe.ErrHardwareFault) {
		t.Fatalf("stream error not surfaced")
	}
}

func TestDecodeStatusFailures(t *testing.T) {
	p := NewProtocol(64)

	if err := p.DecodeDisconnect([]byte{CmdDisconnect, StatusError}); !errors.Is(err, probe.ErrHardwareFault) {
		t.Fatalf("error status err = %v, want ErrHardwareFault", err)
	}
	if err := p.DecodeSetClock([]byte{CmdSWJClock}); !errors.Is(err, probe.ErrHardwareFault) {
		t.Fatalf("short response err = %v, want ErrHardwareFault", err)
	}
}
