package obd2

import (
	"fmt"
	"strings"
)

// Category is the system a trouble code belongs to, selected by the top
// two bits of the first record byte.
//
//	B7 B6    First DTC character
//	-- --    -------------------
//	 0  0    P - Powertrain
//	 0  1    C - Chassis
//	 1  0    B - Body
//	 1  1    U - Network
//
// The remaining 14 bits form the numeric part, printed as 4 hex digits.
// Example: E1 03 -> 1110 0001 0000 0011 -> U2103.
type Category uint8

const (
	Powertrain Category = iota
	Chassis
	Body
	Network
)

var categoryLetters = [4]byte{'P', 'C', 'B', 'U'}

func (c Category) Letter() byte {
	return categoryLetters[c&0x03]
}

func (c Category) String() string {
	switch c {
	case Powertrain:
		return "Powertrain"
	case Chassis:
		return "Chassis"
	case Body:
		return "Body"
	default:
		return "Network"
	}
}

// Status tells which service reported a code. Cleared is not decoded from
// the payload; it means the code came back from the cleared-code service.
type Status uint8

const (
	Stored Status = iota
	Pending
	Cleared
)

func (s Status) Suffix() byte {
	switch s {
	case Pending:
		return 'p'
	case Cleared:
		return 'c'
	default:
		return 's'
	}
}

func (s Status) Label() string {
	switch s {
	case Pending:
		return "pending issue"
	case Cleared:
		return "cleared issue"
	default:
		return "current issue"
	}
}

// DTC is one diagnostic trouble code. Immutable once decoded.
type DTC struct {
	Category Category
	Code     uint16 // 14-bit numeric identifier
	Status   Status
}

// String renders the human-readable identifier, e.g. "P0415".
func (d DTC) String() string {
	return fmt.Sprintf("%c%04X", d.Category.Letter(), d.Code)
}

// Suffixed renders the wire form with the status letter, e.g. "P0415s".
func (d DTC) Suffixed() string {
	return d.String() + string(d.Status.Suffix())
}

// DecodeDTCs parses packed 2-byte DTC records. All-zero records are
// padding, not codes. A truncated trailing byte is ignored rather than
// failing the whole decode.
func DecodeDTCs(data []byte, status Status) []DTC {
	var out []DTC
	for i := 0; i+1 < len(data); i += 2 {
		a, b := data[i], data[i+1]
		if a == 0 && b == 0 {
			continue
		}
		out = append(out, DTC{
			Category: Category(a >> 6 & 0x03),
			Code:     uint16(a&0x3F)<<8 | uint16(b),
			Status:   status,
		})
	}
	return out
}

// FormatDTCs joins codes in wire form with commas and no trailing
// separator. An empty slice renders as the empty string.
func FormatDTCs(dtcs []DTC) string {
	var out strings.Builder
	for i, d := range dtcs {
		if i > 0 {
			out.WriteString(",")
		}
		out.WriteString(d.Suffixed())
	}
	return out.String()
}
