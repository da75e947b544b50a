package obdcan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

// Frame is a single raw CAN frame. Data is at most 8 bytes.
type Frame struct {
	Identifier uint32
	Data       []byte
	Extended   bool
}

func NewFrame(identifier uint32, data []byte) *Frame {
	return &Frame{
		Identifier: identifier,
		Data:       data,
	}
}

func NewExtendedFrame(identifier uint32, data []byte) *Frame {
	return &Frame{
		Identifier: identifier,
		Data:       data,
		Extended:   true,
	}
}

func (f *Frame) Length() int {
	return len(f.Data)
}

func (f *Frame) String() string {
	var out strings.Builder
	out.WriteString(fmt.Sprintf("0x%03X", f.Identifier) + " || ")
	out.WriteString(strconv.Itoa(len(f.Data)) + " || ")

	var hexView strings.Builder
	for i, b := range f.Data {
		hexView.WriteString(fmt.Sprintf("%02X", b))
		if i != len(f.Data)-1 {
			hexView.WriteString(" ")
		}
	}
	out.WriteString(fmt.Sprintf("%-23s", hexView.String()))
	out.WriteString(" || ")
	out.WriteString(onlyPrintable(f.Data))
	return out.String()
}

var (
	green  = color.New(color.FgGreen).SprintfFunc()
	yellow = color.New(color.FgHiBlue).SprintfFunc()
)

func (f *Frame) ColorString() string {
	var out strings.Builder
	out.WriteString(green("0x%03X", f.Identifier) + " || ")
	out.WriteString(strconv.Itoa(len(f.Data)) + " || ")

	var hexView strings.Builder
	for i, b := range f.Data {
		hexView.WriteString(fmt.Sprintf("%02X", b))
		if i != len(f.Data)-1 {
			hexView.WriteString(" ")
		}
	}
	out.WriteString(fmt.Sprintf("%-23s", hexView.String()))
	out.WriteString(" || ")
	out.WriteString(yellow(onlyPrintable(f.Data)))
	return out.String()
}

func onlyPrintable(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		if b < 32 || b > 127 {
			out.WriteString("·")
		} else {
			out.WriteByte(b)
		}
	}
	return out.String()
}
