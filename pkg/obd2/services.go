// Package obd2 implements the SAE J1979 diagnostic services used to read
// and clear trouble codes: a single-request session state machine over an
// ISO-TP connection, the DTC payload decoder, and the CodeReader /
// CodeClearer engines a caller drives with Start/Process/Done.
package obd2

import "fmt"

// Service ids (SAE J1979 modes)
const (
	ServiceShowStoredDTCs  byte = 0x03
	ServiceClearDTCs       byte = 0x04
	ServiceShowPendingDTCs byte = 0x07
	ServiceShowClearedDTCs byte = 0x0A

	positiveResponseOffset byte = 0x40
	negativeResponseID     byte = 0x7F

	nrcResponsePending byte = 0x78
)

// CAN identifiers for 11-bit OBD-II diagnostics (ISO 15765-4)
const (
	FunctionalRequestID uint32 = 0x7DF
	ResponseIDMin       uint32 = 0x7E8
	ResponseIDMax       uint32 = 0x7EF
)

// ResponseIDs returns the ECU response identifiers a tester listens on.
func ResponseIDs() []uint32 {
	out := make([]uint32, 0, ResponseIDMax-ResponseIDMin+1)
	for id := ResponseIDMin; id <= ResponseIDMax; id++ {
		out = append(out, id)
	}
	return out
}

var serviceNames = map[byte]string{
	ServiceShowStoredDTCs:  "Show stored DTCs",
	ServiceClearDTCs:       "Clear DTCs",
	ServiceShowPendingDTCs: "Show pending DTCs",
	ServiceShowClearedDTCs: "Show cleared DTCs",
}

func ServiceName(service byte) string {
	if name, ok := serviceNames[service]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", service)
}

func TranslateNRC(p byte) string {
	switch p {
	case 0x10:
		return "General reject"
	case 0x11:
		return "Service not supported"
	case 0x12:
		return "Sub-function not supported - invalid format"
	case 0x21:
		return "Busy, repeat request"
	case 0x22:
		return "Conditions not correct or request sequence error"
	case 0x31:
		return "Request out of range"
	case 0x33:
		return "Security access denied"
	case 0x78:
		return "Request correctly received, response pending"
	default:
		return fmt.Sprintf("Unknown error %X", p)
	}
}
