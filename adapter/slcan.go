package adapter

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/albenik/bcd"
	"github.com/carloop/obdcan"
	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// SLCan speaks the Lawicel text protocol used by Canable and compatible
// USB-serial CAN interfaces.
type SLCan struct {
	BaseAdapter
	port   serial.Port
	closed bool
}

func init() {
	if err := obdcan.RegisterAdapter(&obdcan.AdapterInfo{
		Name:               "SLCan",
		Description:        "Canable SLCan adapter",
		RequiresSerialPort: true,
		New:                NewSLCan,
	}); err != nil {
		panic(err)
	}
}

func NewSLCan(cfg *obdcan.AdapterConfig) (obdcan.Adapter, error) {
	return &SLCan{
		BaseAdapter: NewBaseAdapter("SLCan", cfg),
	}, nil
}

func (sl *SLCan) Open(ctx context.Context) error {
	mode := &serial.Mode{
		BaudRate: sl.cfg.PortBaudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(sl.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("failed to open com port %q : %v", sl.cfg.Port, err)
	}
	p.SetReadTimeout(1 * time.Millisecond)
	sl.port = p

	p.ResetOutputBuffer()
	p.ResetInputBuffer()

	go sl.sendManager(ctx)
	go sl.recvManager(ctx)

	var rate string
	switch sl.cfg.CANRate {
	case 10.0:
		rate = "S0"
	case 20.0:
		rate = "S1"
	case 50.0:
		rate = "S2"
	case 100.0:
		rate = "S3"
	case 125.0:
		rate = "S4"
	case 250.0:
		rate = "S5"
	case 500.0:
		rate = "S6"
	case 750.0:
		rate = "S7"
	case 1000.0:
		rate = "S8"
	default:
		return fmt.Errorf("unhandled CAN rate: %f", sl.cfg.CANRate)
	}
	p.Write([]byte(rate + "\r"))
	time.Sleep(10 * time.Millisecond)
	p.Write([]byte("O\r"))
	return nil
}

func (sl *SLCan) Close() error {
	sl.closed = true
	sl.BaseAdapter.Close()
	time.Sleep(10 * time.Millisecond)
	sl.port.Write([]byte("C\r"))
	time.Sleep(10 * time.Millisecond)
	return sl.port.Close()
}

func (sl *SLCan) recvManager(ctx context.Context) {
	buff := bytes.NewBuffer(nil)
	readBuffer := make([]byte, 8)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := sl.port.Read(readBuffer)
		if err != nil {
			if !sl.closed {
				sl.SetError(fmt.Errorf("failed to read com port: %w", err))
			}
			return
		}
		if n == 0 {
			continue
		}
		sl.parse(ctx, buff, readBuffer[:n])
	}
}

func (sl *SLCan) sendManager(ctx context.Context) {
	f := bytes.NewBuffer(nil)
	statusTicker := time.NewTicker(5 * time.Second)
	defer statusTicker.Stop()
	for {
		select {
		case v := <-sl.send:
			idb := make([]byte, 4)
			binary.BigEndian.PutUint32(idb, v.Identifier)
			if v.Extended || sl.cfg.UseExtendedID {
				f.WriteString("T" + hex.EncodeToString(idb) +
					strconv.Itoa(v.Length()) +
					hex.EncodeToString(v.Data) + "\x0D")
			} else {
				f.WriteString("t" + hex.EncodeToString(idb)[5:] +
					strconv.Itoa(v.Length()) +
					hex.EncodeToString(v.Data) + "\x0D")
			}
			if _, err := sl.port.Write(f.Bytes()); err != nil {
				sl.SetError(fmt.Errorf("failed to write to com port: %s, %w", f.String(), err))
			}
			if sl.cfg.Debug {
				log.Debug(">> " + f.String())
			}
			f.Reset()
		case <-statusTicker.C:
			if _, err := sl.port.Write([]byte("F\r")); err != nil {
				sl.SetError(fmt.Errorf("failed to request status: %w", err))
			}
		case <-ctx.Done():
			return
		case <-sl.close:
			return
		}
	}
}

func (sl *SLCan) parse(ctx context.Context, buff *bytes.Buffer, readBuffer []byte) {
	for _, b := range readBuffer {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if b == 0x0D {
			if buff.Len() == 0 {
				continue
			}
			by := buff.Bytes()
			switch by[0] {
			case 'F':
				if err := decodeStatus(by); err != nil {
					sl.SetError(fmt.Errorf("CAN status error: %w", err))
				}
			case 't', 'T':
				if sl.cfg.Debug {
					log.Debug("<< " + buff.String())
				}
				f, err := sl.decodeFrame(by)
				if err != nil {
					sl.SetError(fmt.Errorf("failed to decode frame: %X", buff.Bytes()))
					continue
				}
				select {
				case sl.recv <- f:
				default:
					sl.SetError(obdcan.ErrDroppedFrame)
				}
			case 0x07: // bell, last command was unknown
				sl.SetError(errors.New("unknown command"))
			}
			buff.Reset()
			continue
		}
		buff.WriteByte(b)
	}
}

func (*SLCan) decodeFrame(buff []byte) (*obdcan.Frame, error) {
	// 'T' carries a 29-bit identifier as 8 hex digits, 't' an 11-bit one
	// as 3
	idLen := 3
	if buff[0] == 'T' {
		idLen = 8
	}
	if len(buff) < idLen+2 {
		return nil, fmt.Errorf("frame too short: %X", buff)
	}
	id, err := strconv.ParseUint(string(buff[1:1+idLen]), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to decode identifier: %v", err)
	}
	data, err := hex.DecodeString(string(buff[idLen+2:]))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame body: %v", err)
	}
	if buff[0] == 'T' {
		return obdcan.NewExtendedFrame(uint32(id), data), nil
	}
	return obdcan.NewFrame(uint32(id), data), nil
}

/*
Bit 0 CAN receive FIFO queue full
Bit 1 CAN transmit FIFO queue full
Bit 2 Error warning (EI), see SJA1000 datasheet
Bit 3 Data Overrun (DOI), see SJA1000 datasheet
Bit 4 Not used.
Bit 5 Error Passive (EPI), see SJA1000 datasheet
Bit 6 Arbitration Lost (ALI), see SJA1000 datasheet
Bit 7 Bus Error (BEI), see SJA1000 datasheet
*/
func decodeStatus(b []byte) error {
	if len(b) < 3 {
		return nil
	}
	bs := int(bcd.ToUint16(b[1:]))
	switch true {
	case checkBitSet(bs, 1):
		return errors.New("CAN receive FIFO queue full")
	case checkBitSet(bs, 2):
		return errors.New("CAN transmit FIFO queue full")
	case checkBitSet(bs, 3):
		return errors.New("error warning (EI), see SJA1000 datasheet")
	case checkBitSet(bs, 4):
		return errors.New("data Overrun (DOI), see SJA1000 datasheet")
	case checkBitSet(bs, 6):
		return errors.New("error Passive (EPI), see SJA1000 datasheet")
	case checkBitSet(bs, 7):
		return errors.New("arbitration Lost (ALI), see SJA1000 datasheet")
	case checkBitSet(bs, 8):
		return errors.New("bus Error (BEI), see SJA1000 datasheet")
	}
	return nil
}

func checkBitSet(n, k int) bool {
	v := n & (1 << (k - 1))
	return v == 1<<(k-1)
}
