// Package cmsisdap implements the DebugProbe contract over CMSIS-DAP USB
// probes, using the probe firmware's SWD engine instead of bit-banging.
package cmsisdap

import (
	"encoding/binary"
	"fmt"

	"github.com/OpenTraceLab/OpenTraceSWD/pkg/probe"
)

// CMSIS-DAP command IDs.
const (
	CmdInfo              = 0x00
	CmdHostStatus        = 0x01
	CmdConnect           = 0x02
	CmdDisconnect        = 0x03
	CmdTransferConfigure = 0x04
	CmdTransfer          = 0x05
	CmdTransferBlock     = 0x06
	CmdWriteABORT        = 0x08
	CmdResetTarget       = 0x0A
	CmdSWJPins           = 0x10
	CmdSWJClock          = 0x11
	CmdSWJSequence       = 0x12
	CmdSWDConfigure      = 0x13
	CmdSWOTransport      = 0x17
	CmdSWOMode           = 0x18
	CmdSWOBaudrate       = 0x19
	CmdSWOControl        = 0x1A
	CmdSWOStatus         = 0x1B
	CmdSWOData           = 0x1C
	CmdSWDSequence       = 0x1D
)

// DAP_Info info IDs.
const (
	InfoVendorID     = 0x01
	InfoProductID    = 0x02
	InfoSerialNum    = 0x03
	InfoFirmwareVer  = 0x04
	InfoCapabilities = 0xF0
	InfoPacketCount  = 0xFE
	InfoPacketSize   = 0xFF
)

// Connection ports.
const (
	PortDefault = 0
	PortSWD     = 1
	PortJTAG    = 2
)

// Status codes.
const (
	StatusOK    = 0x00
	StatusError = 0xFF
)

// DAP_Transfer request bits.
const (
	TransferAPnDP = 0x01
	TransferRnW   = 0x02
	TransferA2    = 0x04
	TransferA3    = 0x08
)

// DAP_Transfer response acknowledge values (bits [2:0]).
const (
	TransferAckOK    = 0x01
	TransferAckWait  = 0x02
	TransferAckFault = 0x04
	// TransferProtocolError flags a wire-level protocol error.
	TransferProtocolError = 0x08
)

// DAP_SWJ_Pins bit positions.
const (
	PinSWCLK  = 1 << 0
	PinSWDIO  = 1 << 1
	PinTDI    = 1 << 2
	PinTDO    = 1 << 3
	PinNTRST  = 1 << 5
	PinNRESET = 1 << 7
)

// SWO transport and mode selectors.
const (
	SWOTransportNone    = 0
	SWOTransportDAPData = 1
	SWOModeOff          = 0
	SWOModeUART         = 1
)

// Trace status bits reported alongside DAP_SWO_Data payloads.
const (
	SWOStatusActive  = 1 << 0
	SWOStatusError   = 1 << 6
	SWOStatusOverrun = 1 << 7
)

// SWD_Sequence info bits: cycles in [5:0] (0 means 64), bit 7 selects input.
const (
	swdSeqCycleMask = 0x3F
	swdSeqInput     = 0x80
)

// Transfer describes one DP/AP register access within a DAP_Transfer command.
type Transfer struct {
	AP    bool
	Read  bool
	Addr  uint8
	Value uint32 // writes only
}

// Protocol encodes and decodes CMSIS-DAP command packets.
type Protocol struct {
	PacketSize int
}

// NewProtocol creates a codec for the given transport packet size.
func NewProtocol(packetSize int) *Protocol {
	return &Protocol{PacketSize: packetSize}
}

// EncodeInfo builds a DAP_Info command.
func (p *Protocol) EncodeInfo(infoID byte) []byte {
	return []byte{CmdInfo, infoID}
}

// DecodeInfoString parses a string-valued DAP_Info response.
func (p *Protocol) DecodeInfoString(resp []byte) (string, error) {
	if len(resp) < 2 {
		return "", fmt.Errorf("%w: info response too short", probe.ErrHardwareFault)
	}
	if resp[0] != CmdInfo {
		return "", fmt.Errorf("%w: invalid command ID 0x%02X", probe.ErrHardwareFault, resp[0])
	}
	length := int(resp[1])
	if len(resp) < 2+length {
		return "", fmt.Errorf("%w: incomplete info string", probe.ErrHardwareFault)
	}
	s := string(resp[2 : 2+length])
	// Firmware pads the string with its NUL terminator.
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return s, nil
}

// EncodeConnect builds a DAP_Connect command.
func (p *Protocol) EncodeConnect(port byte) []byte {
	return []byte{CmdConnect, port}
}

// DecodeConnect parses a DAP_Connect response, returning the selected port.
func (p *Protocol) DecodeConnect(resp []byte) (byte, error) {
	if len(resp) < 2 {
		return 0, fmt.Errorf("%w: connect response too short", probe.ErrHardwareFault)
	}
	if resp[0] != CmdConnect {
		return 0, fmt.Errorf("%w: invalid command ID", probe.ErrHardwareFault)
	}
	if resp[1] == 0 {
		return 0, fmt.Errorf("%w: probe refused connection", probe.ErrHardwareFault)
	}
	return resp[1], nil
}

// EncodeDisconnect builds a DAP_Disconnect command.
func (p *Protocol) EncodeDisconnect() []byte {
	return []byte{CmdDisconnect}
}

// DecodeDisconnect parses a DAP_Disconnect response.
func (p *Protocol) DecodeDisconnect(resp []byte) error {
	return p.decodeStatus(resp, CmdDisconnect, "disconnect")
}

// EncodeTransferConfigure builds a DAP_TransferConfigure command setting the
// idle cycle count and the probe-internal WAIT/match retry budgets.
func (p *Protocol) EncodeTransferConfigure(idleCycles byte, waitRetry, matchRetry uint16) []byte {
	cmd := make([]byte, 6)
	cmd[0] = CmdTransferConfigure
	cmd[1] = idleCycles
	binary.LittleEndian.PutUint16(cmd[2:], waitRetry)
	binary.LittleEndian.PutUint16(cmd[4:], matchRetry)
	return cmd
}

// DecodeTransferConfigure parses the response.
func (p *Protocol) DecodeTransferConfigure(resp []byte) error {
	return p.decodeStatus(resp, CmdTransferConfigure, "transfer configure")
}

// EncodeSWDConfigure builds a DAP_SWD_Configure command with the given
// turnaround clocks (1-4) and data phase policy.
func (p *Protocol) EncodeSWDConfigure(turnaround byte, alwaysDataPhase bool) []byte {
	cfg := (turnaround - 1) & 0x3
	if alwaysDataPhase {
		cfg |= 0x4
	}
	return []byte{CmdSWDConfigure, cfg}
}

// DecodeSWDConfigure parses the response.
func (p *Protocol) DecodeSWDConfigure(resp []byte) error {
	return p.decodeStatus(resp, CmdSWDConfigure, "swd configure")
}

// EncodeTransfer builds a DAP_Transfer command for a batch of register
// accesses.
func (p *Protocol) EncodeTransfer(transfers []Transfer) []byte {
	size := 3
	for _, t := range transfers {
		size++
		if !t.Read {
			size += 4
		}
	}
	cmd := make([]byte, size)
	cmd[0] = CmdTransfer
	cmd[1] = 0 // DAP index, SWD ignores it
	cmd[2] = byte(len(transfers))

	offset := 3
	for _, t := range transfers {
		req := byte(0)
		if t.AP {
			req |= TransferAPnDP
		}
		if t.Read {
			req |= TransferRnW
		}
		if t.Addr&0x4 != 0 {
			req |= TransferA2
		}
		if t.Addr&0x8 != 0 {
			req |= TransferA3
		}
		cmd[offset] = req
		offset++
		if !t.Read {
			binary.LittleEndian.PutUint32(cmd[offset:], t.Value)
			offset += 4
		}
	}
	return cmd
}

// DecodeTransfer parses a DAP_Transfer response, returning one value per read
// in the request batch. A short completed count or a bad acknowledge maps
// onto the probe error taxonomy.
func (p *Protocol) DecodeTransfer(resp []byte, transfers []Transfer) ([]uint32, error) {
	if len(resp) < 3 {
		return nil, fmt.Errorf("%w: transfer response too short", probe.ErrHardwareFault)
	}
	if resp[0] != CmdTransfer {
		return nil, fmt.Errorf("%w: invalid command ID", probe.ErrHardwareFault)
	}
	completed := int(resp[1])
	if err := ackError(resp[2]); err != nil {
		return nil, err
	}
	if completed != len(transfers) {
		return nil, fmt.Errorf("%w: %d of %d transfers completed", probe.ErrHardwareFault, completed, len(transfers))
	}

	var values []uint32
	offset := 3
	for _, t := range transfers {
		if !t.Read {
			continue
		}
		if offset+4 > len(resp) {
			return nil, fmt.Errorf("%w: truncated read data", probe.ErrHardwareFault)
		}
		values = append(values, binary.LittleEndian.Uint32(resp[offset:]))
		offset += 4
	}
	return values, nil
}

// EncodeTransferBlock builds a DAP_TransferBlock command reading or writing
// one register count times.
func (p *Protocol) EncodeTransferBlock(ap, read bool, addr uint8, count int, values []uint32) []byte {
	size := 5
	if !read {
		size += 4 * len(values)
	}
	cmd := make([]byte, size)
	cmd[0] = CmdTransferBlock
	cmd[1] = 0
	binary.LittleEndian.PutUint16(cmd[2:], uint16(count))

	req := byte(0)
	if ap {
		req |= TransferAPnDP
	}
	if read {
		req |= TransferRnW
	}
	if addr&0x4 != 0 {
		req |= TransferA2
	}
	if addr&0x8 != 0 {
		req |= TransferA3
	}
	cmd[4] = req

	if !read {
		offset := 5
		for _, v := range values {
			binary.LittleEndian.PutUint32(cmd[offset:], v)
			offset += 4
		}
	}
	return cmd
}

// DecodeTransferBlock parses a DAP_TransferBlock response.
func (p *Protocol) DecodeTransferBlock(resp []byte, read bool, count int) ([]uint32, error) {
	if len(resp) < 4 {
		return nil, fmt.Errorf("%w: transfer block response too short", probe.ErrHardwareFault)
	}
	if resp[0] != CmdTransferBlock {
		return nil, fmt.Errorf("%w: invalid command ID", probe.ErrHardwareFault)
	}
	completed := int(binary.LittleEndian.Uint16(resp[1:]))
	if err := ackError(resp[3]); err != nil {
		return nil, err
	}
	if completed != count {
		return nil, fmt.Errorf("%w: %d of %d transfers completed", probe.ErrHardwareFault, completed, count)
	}
	if !read {
		return nil, nil
	}
	if len(resp) < 4+4*count {
		return nil, fmt.Errorf("%w: truncated block data", probe.ErrHardwareFault)
	}
	values := make([]uint32, count)
	for i := range values {
		values[i] = binary.LittleEndian.Uint32(resp[4+4*i:])
	}
	return values, nil
}

// EncodeSWJPins builds a DAP_SWJ_Pins command driving the pins selected in
// sel to the levels in output, then waiting up to waitMicros for them to
// settle.
func (p *Protocol) EncodeSWJPins(output, sel byte, waitMicros uint32) []byte {
	cmd := make([]byte, 7)
	cmd[0] = CmdSWJPins
	cmd[1] = output
	cmd[2] = sel
	binary.LittleEndian.PutUint32(cmd[3:], waitMicros)
	return cmd
}

// DecodeSWJPins parses the response, returning the sampled pin state.
func (p *Protocol) DecodeSWJPins(resp []byte) (byte, error) {
	if len(resp) < 2 {
		return 0, fmt.Errorf("%w: pins response too short", probe.ErrHardwareFault)
	}
	if resp[0] != CmdSWJPins {
		return 0, fmt.Errorf("%w: invalid command ID", probe.ErrHardwareFault)
	}
	return resp[1], nil
}

// EncodeSetClock builds a DAP_SWJ_Clock command.
func (p *Protocol) EncodeSetClock(hz uint32) []byte {
	cmd := make([]byte, 5)
	cmd[0] = CmdSWJClock
	binary.LittleEndian.PutUint32(cmd[1:], hz)
	return cmd
}

// DecodeSetClock parses the response.
func (p *Protocol) DecodeSetClock(resp []byte) error {
	return p.decodeStatus(resp, CmdSWJClock, "set clock")
}

// EncodeSWJSequence builds a DAP_SWJ_Sequence command shifting bits out on
// SWDIO/TMS. A count of 256 is encoded as zero per the protocol.
func (p *Protocol) EncodeSWJSequence(bits int, data []byte) []byte {
	n := (bits + 7) / 8
	cmd := make([]byte, 2+n)
	cmd[0] = CmdSWJSequence
	cmd[1] = byte(bits) // 256 wraps to 0
	copy(cmd[2:], data[:n])
	return cmd
}

// DecodeSWJSequence parses the response.
func (p *Protocol) DecodeSWJSequence(resp []byte) error {
	return p.decodeStatus(resp, CmdSWJSequence, "swj sequence")
}

// EncodeSWDSequence builds a DAP_SWD_Sequence command from mixed output and
// capture steps.
func (p *Protocol) EncodeSWDSequence(seqs []probe.SWDSequence) []byte {
	size := 2
	for _, s := range seqs {
		size++
		if !s.IsInput() {
			size += (s.Cycles + 7) / 8
		}
	}
	cmd := make([]byte, size)
	cmd[0] = CmdSWDSequence
	cmd[1] = byte(len(seqs))

	offset := 2
	for _, s := range seqs {
		info := byte(s.Cycles & swdSeqCycleMask) // 64 wraps to 0
		if s.IsInput() {
			info |= swdSeqInput
		}
		cmd[offset] = info
		offset++
		if !s.IsInput() {
			n := (s.Cycles + 7) / 8
			copy(cmd[offset:], s.Data[:n])
			offset += n
		}
	}
	return cmd
}

// DecodeSWDSequence parses the response, returning the captured bytes of each
// input step.
func (p *Protocol) DecodeSWDSequence(resp []byte, seqs []probe.SWDSequence) ([][]byte, error) {
	if len(resp) < 2 {
		return nil, fmt.Errorf("%w: swd sequence response too short", probe.ErrHardwareFault)
	}
	if resp[0] != CmdSWDSequence {
		return nil, fmt.Errorf("%w: invalid command ID", probe.ErrHardwareFault)
	}
	if resp[1] != StatusOK {
		return nil, fmt.Errorf("%w: swd sequence failed", probe.ErrHardwareFault)
	}

	var captured [][]byte
	offset := 2
	for _, s := range seqs {
		if !s.IsInput() {
			continue
		}
		n := (s.Cycles + 7) / 8
		if offset+n > len(resp) {
			return nil, fmt.Errorf("%w: truncated capture data", probe.ErrHardwareFault)
		}
		captured = append(captured, append([]byte(nil), resp[offset:offset+n]...))
		offset += n
	}
	return captured, nil
}

// EncodeSWOTransport builds a DAP_SWO_Transport command.
func (p *Protocol) EncodeSWOTransport(transport byte) []byte {
	return []byte{CmdSWOTransport, transport}
}

// DecodeSWOTransport parses the response.
func (p *Protocol) DecodeSWOTransport(resp []byte) error {
	return p.decodeStatus(resp, CmdSWOTransport, "swo transport")
}

// EncodeSWOMode builds a DAP_SWO_Mode command.
func (p *Protocol) EncodeSWOMode(mode byte) []byte {
	return []byte{CmdSWOMode, mode}
}

// DecodeSWOMode parses the response.
func (p *Protocol) DecodeSWOMode(resp []byte) error {
	return p.decodeStatus(resp, CmdSWOMode, "swo mode")
}

// EncodeSWOBaudrate builds a DAP_SWO_Baudrate command.
func (p *Protocol) EncodeSWOBaudrate(baud uint32) []byte {
	cmd := make([]byte, 5)
	cmd[0] = CmdSWOBaudrate
	binary.LittleEndian.PutUint32(cmd[1:], baud)
	return cmd
}

// DecodeSWOBaudrate parses the response, returning the actual baudrate the
// probe selected.
func (p *Protocol) DecodeSWOBaudrate(resp []byte) (uint32, error) {
	if len(resp) < 5 {
		return 0, fmt.Errorf("%w: swo baudrate response too short", probe.ErrHardwareFault)
	}
	if resp[0] != CmdSWOBaudrate {
		return 0, fmt.Errorf("%w: invalid command ID", probe.ErrHardwareFault)
	}
	return binary.LittleEndian.Uint32(resp[1:]), nil
}

// EncodeSWOControl builds a DAP_SWO_Control command starting (true) or
// stopping trace capture.
func (p *Protocol) EncodeSWOControl(start bool) []byte {
	ctl := byte(0)
	if start {
		ctl = 1
	}
	return []byte{CmdSWOControl, ctl}
}

// DecodeSWOControl parses the response.
func (p *Protocol) DecodeSWOControl(resp []byte) error {
	return p.decodeStatus(resp, CmdSWOControl, "swo control")
}

// EncodeSWOData builds a DAP_SWO_Data command requesting up to count trace
// bytes.
func (p *Protocol) EncodeSWOData(count uint16) []byte {
	cmd := make([]byte, 3)
	cmd[0] = CmdSWOData
	binary.LittleEndian.PutUint16(cmd[1:], count)
	return cmd
}

// DecodeSWOData parses the response, returning the buffered trace bytes.
func (p *Protocol) DecodeSWOData(resp []byte) ([]byte, error) {
	if len(resp) < 4 {
		return nil, fmt.Errorf("%w: swo data response too short", probe.ErrHardwareFault)
	}
	if resp[0] != CmdSWOData {
		return nil, fmt.Errorf("%w: invalid command ID", probe.ErrHardwareFault)
	}
	if resp[1]&SWOStatusOverrun != 0 {
		return nil, fmt.Errorf("%w: swo trace buffer overrun", probe.ErrHardwareFault)
	}
	if resp[1]&SWOStatusError != 0 {
		return nil, fmt.Errorf("%w: swo stream error", probe.ErrHardwareFault)
	}
	count := int(binary.LittleEndian.Uint16(resp[2:]))
	if len(resp) < 4+count {
		return nil, fmt.Errorf("%w: truncated swo data", probe.ErrHardwareFault)
	}
	return append([]byte(nil), resp[4:4+count]...), nil
}

// decodeStatus validates the common [cmd, status] response shape.
func (p *Protocol) decodeStatus(resp []byte, cmd byte, op string) error {
	if len(resp) < 2 {
		return fmt.Errorf("%w: %s response too short", probe.ErrHardwareFault, op)
	}
	if resp[0] != cmd {
		return fmt.Errorf("%w: %s: invalid command ID", probe.ErrHardwareFault, op)
	}
	if resp[1] != StatusOK {
		return fmt.Errorf("%w: %s failed", probe.ErrHardwareFault, op)
	}
	return nil
}

// ackError maps a DAP_Transfer response byte onto the error taxonomy. The
// probe retries WAIT acknowledges internally, so a surviving WAIT means the
// retry budget ran out.
func ackError(response byte) error {
	if response&TransferProtocolError != 0 {
		return fmt.Errorf("%w: SWD protocol error", probe.ErrHardwareFault)
	}
	switch response & 0x7 {
	case TransferAckOK:
		return nil
	case TransferAckWait:
		return fmt.Errorf("%w: target kept WAITing", probe.ErrTimeout)
	case TransferAckFault:
		return fmt.Errorf("%w: FAULT ack", probe.ErrHardwareFault)
	default:
		return fmt.Errorf("%w: no ack (%#x)", probe.ErrHardwareFault, response)
	}
}
