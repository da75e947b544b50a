package obdcan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type Sub struct {
	ctx         context.Context
	c           *Client
	errcount    uint16
	identifiers []uint32
	callback    chan *Frame
}

func (s *Sub) Close() {
	s.c.fh.unregister <- s
}

// C returns the channel incoming frames are delivered on. Reads must keep
// up; a full channel drops frames instead of stalling the bus.
func (s *Sub) C() <-chan *Frame {
	return s.callback
}

func (s *Sub) Wait(ctx context.Context, timeout time.Duration) (*Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case f := <-s.callback:
		if f == nil {
			return nil, errors.New("got nil frame")
		}
		return f, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("timeout waiting for frame 0x%03X", s.identifiers)
	}
}

// FrameHandler takes care of faning out incoming frames to any subs
type FrameHandler struct {
	subs       map[*Sub]bool
	register   chan *Sub
	unregister chan *Sub
	incoming   <-chan *Frame
	close      chan struct{}
	closeOnce  sync.Once
}

func newFrameHandler(incoming <-chan *Frame) *FrameHandler {
	return &FrameHandler{
		subs:       make(map[*Sub]bool),
		register:   make(chan *Sub, 10),
		unregister: make(chan *Sub, 10),
		close:      make(chan struct{}),
		incoming:   incoming,
	}
}

func (h *FrameHandler) run(ctx context.Context) {
	for {
		select {
		case <-h.close:
			return
		case <-ctx.Done():
			return
		case sub := <-h.register:
			h.sub(sub)
		case sub := <-h.unregister:
			h.unsub(sub)
		case frame, ok := <-h.incoming:
			if !ok {
				return
			}
			h.fanout(frame)
		}
	}
}

func (h *FrameHandler) Close() {
	h.closeOnce.Do(func() {
		close(h.close)
	})
}

func (h *FrameHandler) sub(sub *Sub) {
	h.subs[sub] = true
}

func (h *FrameHandler) fanout(frame *Frame) {
outer:
	for sub := range h.subs {
		select {
		case <-sub.ctx.Done():
			h.unsub(sub)
			continue
		default:
			if len(sub.identifiers) == 0 {
				h.deliver(sub, frame)
				continue
			}
			for _, id := range sub.identifiers {
				if id == frame.Identifier {
					h.deliver(sub, frame)
					continue outer
				}
			}
		}
	}
}

func (h *FrameHandler) unsub(sub *Sub) {
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.callback)
	}
}

func (h *FrameHandler) deliver(sub *Sub, frame *Frame) {
	select {
	case sub.callback <- frame:
	default:
		sub.errcount++
	}
	if sub.errcount > 20 {
		// closing the channel lets the reader see the eviction instead
		// of selecting on a dead channel forever
		h.unsub(sub)
	}
}
