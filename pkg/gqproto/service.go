package gqproto

import (
	"fmt"
	"strings"
	"time"
)

// Commands are ASCII framed as <TAG>>. Responses are raw bytes with no
// delimiter and no checksum, so callers must know the expected length.
var (
	CmdGetVersion = []byte("<GETVER>>")
	CmdGetSerial  = []byte("<GETSERIAL>>")
	CmdGetCPM     = []byte("<GETCPM>>")
	CmdGetVoltage = []byte("<GETVOLT>>")
)

// WakePreamble nudges a unit that dropped into power saving before the
// first real command.
var WakePreamble = []byte("\r\n")

// CmdSetDateTime frames <SETDATETIME with six packed-decimal payload bytes
// (YY MM DD hh mm ss) before the closing >>. Packed decimal means minute 45
// goes on the wire as 0x45.
func CmdSetDateTime(t time.Time) []byte {
	cmd := make([]byte, 0, 20)
	cmd = append(cmd, "<SETDATETIME"...)
	cmd = append(cmd,
		packedDecimal(t.Year()%100),
		packedDecimal(int(t.Month())),
		packedDecimal(t.Day()),
		packedDecimal(t.Hour()),
		packedDecimal(t.Minute()),
		packedDecimal(t.Second()),
	)
	cmd = append(cmd, ">>"...)
	return cmd
}

func packedDecimal(v int) byte {
	return byte(v/10)<<4 | byte(v%10)
}

// DecodeCPM combines the two response bytes big-endian. The top two bits of
// each byte do not carry count data and are masked off.
func DecodeCPM(resp []byte) (uint16, error) {
	if len(resp) < CPMResponseLen {
		return 0, fmt.Errorf("%w: got %d of %d CPM bytes", ErrBadResponse, len(resp), CPMResponseLen)
	}
	return uint16(resp[0]&0x3F)<<8 | uint16(resp[1]&0x3F), nil
}

// DecodeVoltage reads the single byte as tenths of a volt.
func DecodeVoltage(resp []byte) (float64, error) {
	if len(resp) < VoltageResponseLen {
		return 0, fmt.Errorf("%w: empty voltage response", ErrBadResponse)
	}
	return float64(resp[0]) / 10.0, nil
}

// DecodeSerialNumber renders the fixed-size serial block as uppercase hex.
func DecodeSerialNumber(resp []byte) (string, error) {
	if len(resp) != SerialResponseLen {
		return "", fmt.Errorf("%w: got %d of %d serial bytes", ErrBadResponse, len(resp), SerialResponseLen)
	}
	return fmt.Sprintf("%X", resp), nil
}

// DecodeVersion trims the firmware banner to its printable content.
func DecodeVersion(resp []byte) (string, error) {
	version := strings.TrimSpace(string(resp))
	if version == "" {
		return "", fmt.Errorf("%w: empty version response", ErrBadResponse)
	}
	return version, nil
}

// DecodeAck verifies the acknowledgment byte arrived. Its value is not
// specified and not interpreted.
func DecodeAck(resp []byte) error {
	if len(resp) < AckResponseLen {
		return fmt.Errorf("%w: missing acknowledgment byte", ErrBadResponse)
	}
	return nil
}
