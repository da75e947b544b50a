// Package isotp implements ISO 15765-2 transport framing on top of an
// obdcan.Client: single-frame messages, first/consecutive-frame
// segmentation with flow-control credit, and multi-frame reassembly.
//
// A Conn never blocks. Poll drains whatever frames have arrived, advances
// the transmit window and enforces the inter-frame deadline; the caller
// keeps calling it from its own loop.
package isotp

import (
	"errors"
	"time"

	"github.com/carloop/obdcan"
)

const (
	pciMask        = 0xF0
	pciSingle      = 0x00
	pciFirst       = 0x10
	pciConsecutive = 0x20
	pciFlowControl = 0x30

	flowStatusCTS      = 0x00
	flowStatusWait     = 0x01
	flowStatusOverflow = 0x02

	// 12-bit first-frame length field
	MaxMessageSize = 0xFFF

	DefaultTimeout = 1 * time.Second
)

var (
	ErrBusy            = errors.New("transfer already in progress")
	ErrMessageTooLarge = errors.New("message exceeds 4095 bytes")
	ErrBadSequence     = errors.New("consecutive frame out of sequence")
	ErrTimeout         = errors.New("inter-frame timeout")
	ErrOverflow        = errors.New("receiver reported overflow")
)

type txState uint8

const (
	txIdle txState = iota
	txWaitFlowControl
	txSending
)

type rxState uint8

const (
	rxIdle rxState = iota
	rxReceiving
)

type txContext struct {
	state    txState
	buf      []byte
	offset   int
	seq      byte
	block    byte
	credit   int
	stMin    time.Duration
	nextAt   time.Time
	deadline time.Time
}

type rxContext struct {
	state    rxState
	buf      []byte
	total    int
	seq      byte
	deadline time.Time
}

// Conn binds one outgoing identifier and a set of response identifiers.
type Conn struct {
	client  *obdcan.Client
	sub     *obdcan.Sub
	txID    uint32
	timeout time.Duration

	tx txContext
	rx rxContext
}

func New(client *obdcan.Client, sub *obdcan.Sub, txID uint32) *Conn {
	return &Conn{
		client:  client,
		sub:     sub,
		txID:    txID,
		timeout: DefaultTimeout,
	}
}

// SetTimeout overrides the inter-frame deadline applied while a
// multi-frame transfer is in flight.
func (c *Conn) SetTimeout(d time.Duration) {
	c.timeout = d
}

func (c *Conn) Close() {
	c.sub.Close()
}

// SendMessage transmits a complete diagnostic message. Messages up to 7
// bytes go out as a single frame; longer ones start a segmented transfer
// that Poll drives to completion once the receiver grants credit.
func (c *Conn) SendMessage(data []byte) error {
	if len(data) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	if c.tx.state != txIdle {
		return ErrBusy
	}
	if len(data) <= 7 {
		frame := make([]byte, 8)
		frame[0] = byte(len(data))
		copy(frame[1:], data)
		return c.client.SendFrame(c.txID, frame)
	}

	frame := make([]byte, 8)
	frame[0] = pciFirst | byte(len(data)>>8&0x0F)
	frame[1] = byte(len(data))
	copy(frame[2:], data[:6])
	if err := c.client.SendFrame(c.txID, frame); err != nil {
		return err
	}
	c.tx = txContext{
		state:    txWaitFlowControl,
		buf:      data,
		offset:   6,
		seq:      1,
		deadline: time.Now().Add(c.timeout),
	}
	return nil
}

// Poll is the non-blocking step. It returns a fully reassembled inbound
// message when one completed, or an error when the in-flight transfer
// (either direction) was aborted. Both message and error are nil while
// work remains pending.
func (c *Conn) Poll(now time.Time) ([]byte, error) {
drain:
	for {
		select {
		case frame, ok := <-c.sub.C():
			if !ok {
				return nil, obdcan.ErrResponseChannelClosed
			}
			msg, err := c.handleFrame(frame, now)
			if msg != nil || err != nil {
				return msg, err
			}
		default:
			break drain
		}
	}

	if err := c.advanceTx(now); err != nil {
		return nil, err
	}
	if c.rx.state == rxReceiving && now.After(c.rx.deadline) {
		c.rx = rxContext{}
		return nil, ErrTimeout
	}
	if c.tx.state == txWaitFlowControl && now.After(c.tx.deadline) {
		c.tx = txContext{}
		return nil, ErrTimeout
	}
	return nil, nil
}

func (c *Conn) handleFrame(frame *obdcan.Frame, now time.Time) ([]byte, error) {
	data := frame.Data
	if len(data) == 0 {
		return nil, nil
	}
	switch data[0] & pciMask {
	case pciSingle:
		n := int(data[0] & 0x0F)
		if n == 0 || n > len(data)-1 {
			return nil, nil
		}
		// a fresh message supersedes any partial reassembly
		c.rx = rxContext{}
		msg := make([]byte, n)
		copy(msg, data[1:1+n])
		return msg, nil

	case pciFirst:
		if len(data) < 3 {
			return nil, nil
		}
		total := int(data[0]&0x0F)<<8 | int(data[1])
		if total <= 7 {
			return nil, nil
		}
		c.rx = rxContext{
			state:    rxReceiving,
			buf:      append(make([]byte, 0, total), data[2:]...),
			total:    total,
			seq:      1,
			deadline: now.Add(c.timeout),
		}
		// grant the whole remainder in one block, no separation time
		fc := []byte{pciFlowControl | flowStatusCTS, 0x00, 0x00, 0, 0, 0, 0, 0}
		if err := c.client.SendFrame(flowControlID(frame.Identifier, c.txID), fc); err != nil {
			c.rx = rxContext{}
			return nil, err
		}

	case pciConsecutive:
		if c.rx.state != rxReceiving {
			return nil, nil
		}
		if data[0]&0x0F != c.rx.seq {
			c.rx = rxContext{}
			return nil, ErrBadSequence
		}
		n := c.rx.total - len(c.rx.buf)
		if n > len(data)-1 {
			n = len(data) - 1
		}
		c.rx.buf = append(c.rx.buf, data[1:1+n]...)
		if len(c.rx.buf) >= c.rx.total {
			msg := c.rx.buf
			c.rx = rxContext{}
			return msg, nil
		}
		c.rx.seq = (c.rx.seq + 1) & 0x0F
		c.rx.deadline = now.Add(c.timeout)

	case pciFlowControl:
		if c.tx.state != txWaitFlowControl || len(data) < 3 {
			return nil, nil
		}
		switch data[0] & 0x0F {
		case flowStatusCTS:
			c.tx.state = txSending
			c.tx.block = data[1]
			c.tx.credit = int(data[1])
			c.tx.stMin = decodeSTmin(data[2])
			c.tx.nextAt = now
		case flowStatusWait:
			c.tx.deadline = now.Add(c.timeout)
		case flowStatusOverflow:
			c.tx = txContext{}
			return nil, ErrOverflow
		}
	}
	return nil, nil
}

func (c *Conn) advanceTx(now time.Time) error {
	for c.tx.state == txSending && !now.Before(c.tx.nextAt) {
		if c.tx.block > 0 && c.tx.credit == 0 {
			c.tx.state = txWaitFlowControl
			c.tx.deadline = now.Add(c.timeout)
			return nil
		}
		n := len(c.tx.buf) - c.tx.offset
		if n > 7 {
			n = 7
		}
		frame := make([]byte, 8)
		frame[0] = pciConsecutive | c.tx.seq
		copy(frame[1:], c.tx.buf[c.tx.offset:c.tx.offset+n])
		if err := c.client.SendFrame(c.txID, frame); err != nil {
			if errors.Is(err, obdcan.ErrSendBufferFull) {
				// try again next Poll
				return nil
			}
			c.tx = txContext{}
			return err
		}
		c.tx.offset += n
		c.tx.seq = (c.tx.seq + 1) & 0x0F
		if c.tx.block > 0 {
			c.tx.credit--
		}
		if c.tx.offset >= len(c.tx.buf) {
			c.tx = txContext{}
			return nil
		}
		if c.tx.stMin > 0 {
			c.tx.nextAt = now.Add(c.tx.stMin)
		}
	}
	return nil
}

// ISO 15765-4: physical response ids 0x7E8..0x7EF pair with request ids
// 0x7E0..0x7E7 for flow control, even when the request went out on the
// functional id 0x7DF.
func flowControlID(src, txID uint32) uint32 {
	if src >= 0x7E8 && src <= 0x7EF {
		return src - 8
	}
	return txID
}

func decodeSTmin(b byte) time.Duration {
	if b <= 0x7F {
		return time.Duration(b) * time.Millisecond
	}
	if b >= 0xF1 && b <= 0xF9 {
		return time.Duration(b-0xF0) * 100 * time.Microsecond
	}
	// reserved values read as the maximum
	return 127 * time.Millisecond
}
