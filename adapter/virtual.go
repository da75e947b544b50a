package adapter

import (
	"context"

	"github.com/carloop/obdcan"
)

// Virtual is an in-process loopback adapter. A Responder hook, when set,
// receives every outgoing frame and may answer with zero or more frames
// which are queued on the receive side. Used as the wire simulator in
// tests and for dry runs without hardware.
type Virtual struct {
	BaseAdapter
	Responder func(*obdcan.Frame) []*obdcan.Frame
}

func init() {
	if err := obdcan.RegisterAdapter(&obdcan.AdapterInfo{
		Name:               "Virtual",
		Description:        "In-process loopback",
		RequiresSerialPort: false,
		New:                NewVirtual,
	}); err != nil {
		panic(err)
	}
}

func NewVirtual(cfg *obdcan.AdapterConfig) (obdcan.Adapter, error) {
	return &Virtual{
		BaseAdapter: NewBaseAdapter("Virtual", cfg),
	}, nil
}

func (v *Virtual) Open(ctx context.Context) error {
	go v.sendManager(ctx)
	return nil
}

func (v *Virtual) Close() error {
	v.BaseAdapter.Close()
	return nil
}

// Inject queues a frame on the receive side as if it arrived off the bus.
func (v *Virtual) Inject(frame *obdcan.Frame) {
	select {
	case v.recv <- frame:
	default:
		v.SetError(obdcan.ErrDroppedFrame)
	}
}

func (v *Virtual) sendManager(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.close:
			return
		case frame := <-v.send:
			if v.Responder == nil {
				continue
			}
			for _, reply := range v.Responder(frame) {
				v.Inject(reply)
			}
		}
	}
}
