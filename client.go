package obdcan

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Client owns an Adapter and fans incoming frames out to subscribers.
type Client struct {
	fh      *FrameHandler
	adapter Adapter
}

// New opens the adapter and starts the frame fan-out. The context governs
// the lifetime of the receive loop.
func New(ctx context.Context, adapter Adapter) (*Client, error) {
	if adapter == nil {
		return nil, ErrNilAdapter
	}
	if err := adapter.Open(ctx); err != nil {
		return nil, err
	}
	c := &Client{
		fh:      newFrameHandler(adapter.Recv()),
		adapter: adapter,
	}
	go c.fh.run(ctx)
	go c.errorManager(ctx)
	return c, nil
}

func (c *Client) Adapter() Adapter {
	return c.adapter
}

func (c *Client) Close() error {
	c.fh.Close()
	return c.adapter.Close()
}

// Send queues a frame for transmission. It never blocks; a full adapter
// queue returns ErrSendBufferFull and the caller decides when to retry.
func (c *Client) Send(frame *Frame) error {
	select {
	case c.adapter.Send() <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// SendFrame is shorthand to send a standard 11bit frame
func (c *Client) SendFrame(identifier uint32, data []byte) error {
	b := make([]byte, len(data))
	copy(b, data)
	return c.Send(NewFrame(identifier, b))
}

// Subscribe registers interest in the given identifiers. No identifiers
// means all frames.
func (c *Client) Subscribe(ctx context.Context, identifiers ...uint32) *Sub {
	sub := &Sub{
		ctx:         ctx,
		c:           c,
		identifiers: identifiers,
		callback:    make(chan *Frame, 40),
	}
	c.fh.register <- sub
	return sub
}

func (c *Client) errorManager(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-c.adapter.Err():
			if !ok {
				return
			}
			log.WithField("adapter", c.adapter.Name()).Error(err)
		}
	}
}
