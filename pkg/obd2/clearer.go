package obd2

import (
	"fmt"
	"time"
)

type ClearerState uint8

const (
	ClearerIdle ClearerState = iota
	ClearerRequested
	ClearerDone
)

// CodeClearer issues the clear-DTC service and reports the outcome. A
// negative response or a timeout is a failed clear (ignition off, bus
// silent); the host decides whether to Start again. No automatic retries.
type CodeClearer struct {
	session *Session
	state   ClearerState
	err     error
}

const clearerOwner = "code-clearer"

func NewCodeClearer(session *Session) *CodeClearer {
	return &CodeClearer{session: session}
}

// Start issues the clear request. Restartable from any terminal state.
func (c *CodeClearer) Start() error {
	c.session.Release(clearerOwner)
	if err := c.session.Acquire(clearerOwner); err != nil {
		return err
	}
	c.err = nil
	if err := c.session.Issue(clearerOwner, ServiceClearDTCs); err != nil {
		c.finish(err)
		return err
	}
	c.state = ClearerRequested
	return nil
}

func (c *CodeClearer) Process() {
	if c.state != ClearerRequested {
		return
	}
	c.session.Poll(time.Now())
	switch c.session.State() {
	case SessionFailed:
		c.finish(c.session.Err())
	case SessionComplete:
		resp := c.session.Response()
		if resp.Negative {
			c.finish(fmt.Errorf("clear rejected: %s", TranslateNRC(resp.Code)))
			return
		}
		c.finish(nil)
	}
}

func (c *CodeClearer) finish(err error) {
	c.state = ClearerDone
	c.err = err
	c.session.Release(clearerOwner)
}

func (c *CodeClearer) Done() bool {
	return c.state == ClearerDone
}

// Err is nil when the vehicle acknowledged the clear.
func (c *CodeClearer) Err() error {
	return c.err
}
