package obd2

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carloop/obdcan"
	"github.com/carloop/obdcan/pkg/isotp"
)

var (
	ErrSessionHeld        = errors.New("diagnostic session held by another client")
	ErrNotOwner           = errors.New("caller does not hold the diagnostic session")
	ErrRequestOutstanding = errors.New("a request is already outstanding")
	ErrRequestTimeout     = errors.New("no response before deadline")
)

type SessionState uint8

const (
	SessionIdle SessionState = iota
	SessionAwaitingResponse
	SessionComplete
	SessionFailed
)

// Response is a reassembled reply to the outstanding request. Data holds
// the payload after the echoed service id. Negative responses carry the
// refusal code instead of data.
type Response struct {
	Service  byte
	Data     []byte
	Negative bool
	Code     byte
}

// Session issues one diagnostic service request at a time and matches the
// reply by service id echo. It is a single-owner resource: a Reader or
// Clearer must Acquire it before issuing and releases it when done, so two
// clients can never interleave requests on the same connection.
type Session struct {
	conn     *isotp.Conn
	state    SessionState
	service  byte
	issuedAt time.Time
	deadline time.Time
	timeout  time.Duration
	resp     *Response
	err      error
	owner    string
}

const DefaultRequestTimeout = 1 * time.Second

// NewSession subscribes to the standard OBD-II response identifiers and
// sends requests on the functional id 0x7DF.
func NewSession(ctx context.Context, client *obdcan.Client) *Session {
	sub := client.Subscribe(ctx, ResponseIDs()...)
	return &Session{
		conn:    isotp.New(client, sub, FunctionalRequestID),
		timeout: DefaultRequestTimeout,
	}
}

// SetTimeout adjusts the per-request response deadline and the
// segmenter's inter-frame deadline together.
func (s *Session) SetTimeout(d time.Duration) {
	s.timeout = d
	s.conn.SetTimeout(d)
}

func (s *Session) Close() {
	s.conn.Close()
}

// Acquire claims the session for one client, failing fast when held.
func (s *Session) Acquire(owner string) error {
	if s.owner != "" && s.owner != owner {
		return fmt.Errorf("%w (%s)", ErrSessionHeld, s.owner)
	}
	s.owner = owner
	return nil
}

// Release gives the session up. Any in-flight request state is discarded.
func (s *Session) Release(owner string) {
	if s.owner != owner {
		return
	}
	s.owner = ""
	s.state = SessionIdle
	s.resp = nil
	s.err = nil
}

func (s *Session) State() SessionState {
	return s.state
}

func (s *Session) Response() *Response {
	return s.resp
}

func (s *Session) Err() error {
	return s.err
}

// Issue transmits a service request. Legal from idle or a terminal state;
// a second request while one is outstanding is rejected.
func (s *Session) Issue(owner string, service byte, sub ...byte) error {
	if s.owner != owner {
		return ErrNotOwner
	}
	if s.state == SessionAwaitingResponse {
		return ErrRequestOutstanding
	}
	payload := append([]byte{service}, sub...)
	if err := s.conn.SendMessage(payload); err != nil {
		return err
	}
	now := time.Now()
	s.service = service
	s.issuedAt = now
	s.deadline = now.Add(s.timeout)
	s.resp = nil
	s.err = nil
	s.state = SessionAwaitingResponse
	return nil
}

// Poll advances the session. Non-blocking: transport and segmenter
// failures fold into SessionFailed, a matched reply (positive or negative)
// lands in SessionComplete.
func (s *Session) Poll(now time.Time) {
	if s.state != SessionAwaitingResponse {
		return
	}
	msg, err := s.conn.Poll(now)
	if err != nil {
		s.fail(err)
		return
	}
	if msg != nil && s.match(msg, now) {
		return
	}
	if now.After(s.deadline) {
		s.fail(fmt.Errorf("%w: %s", ErrRequestTimeout, ServiceName(s.service)))
	}
}

// match consumes a reassembled message. Replies that do not belong to the
// outstanding request are stale and dropped.
func (s *Session) match(msg []byte, now time.Time) bool {
	if len(msg) == 0 {
		return false
	}
	if msg[0] == s.service+positiveResponseOffset {
		s.resp = &Response{Service: s.service, Data: msg[1:]}
		s.state = SessionComplete
		return true
	}
	if msg[0] == negativeResponseID && len(msg) >= 3 && msg[1] == s.service {
		if msg[2] == nrcResponsePending {
			s.deadline = now.Add(s.timeout)
			return false
		}
		s.resp = &Response{Service: s.service, Negative: true, Code: msg[2]}
		s.state = SessionComplete
		return true
	}
	return false
}

func (s *Session) fail(err error) {
	s.err = err
	s.state = SessionFailed
}
