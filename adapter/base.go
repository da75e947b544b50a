package adapter

import (
	"sync"

	"github.com/carloop/obdcan"
	log "github.com/sirupsen/logrus"
)

type BaseAdapter struct {
	name       string
	cfg        *obdcan.AdapterConfig
	send, recv chan *obdcan.Frame
	err        chan error
	close      chan struct{}
	once       sync.Once
}

func NewBaseAdapter(name string, cfg *obdcan.AdapterConfig) BaseAdapter {
	return BaseAdapter{
		name:  name,
		cfg:   cfg,
		send:  make(chan *obdcan.Frame, 10),
		recv:  make(chan *obdcan.Frame, 1024),
		err:   make(chan error, 10),
		close: make(chan struct{}),
	}
}

func (base *BaseAdapter) Name() string {
	return base.name
}

func (base *BaseAdapter) Send() chan<- *obdcan.Frame {
	return base.send
}

func (base *BaseAdapter) Recv() <-chan *obdcan.Frame {
	return base.recv
}

func (base *BaseAdapter) Err() <-chan error {
	return base.err
}

func (base *BaseAdapter) Close() {
	base.once.Do(func() {
		close(base.close)
	})
}

func (base *BaseAdapter) SetError(err error) {
	select {
	case base.err <- err:
	default:
		log.WithField("adapter", base.name).Warn(obdcan.ErrErrorChannelFull)
	}
}
