package adapter

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"strings"

	"github.com/carloop/obdcan"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/candevice"
	"go.einride.tech/can/pkg/socketcan"
)

func init() {
	for _, dev := range FindDevices() {
		if err := obdcan.RegisterAdapter(&obdcan.AdapterInfo{
			Name:               "SocketCAN " + dev,
			Description:        "Linux SocketCAN driver",
			RequiresSerialPort: false,
			New:                NewSocketCANFromDevName(dev),
		}); err != nil {
			panic(err)
		}
	}
}

type SocketCAN struct {
	BaseAdapter
	d  *candevice.Device
	tx *socketcan.Transmitter
	rx *socketcan.Receiver
}

func NewSocketCANFromDevName(dev string) func(cfg *obdcan.AdapterConfig) (obdcan.Adapter, error) {
	return func(cfg *obdcan.AdapterConfig) (obdcan.Adapter, error) {
		cfg.Port = dev
		return NewSocketCAN(cfg)
	}
}

func NewSocketCAN(cfg *obdcan.AdapterConfig) (obdcan.Adapter, error) {
	return &SocketCAN{
		BaseAdapter: NewBaseAdapter("SocketCAN "+cfg.Port, cfg),
	}, nil
}

func (a *SocketCAN) Open(ctx context.Context) error {
	var err error
	a.d, err = candevice.New(a.cfg.Port)
	if err != nil {
		return err
	}
	if err = a.d.SetBitrate(uint32(a.cfg.CANRate * 1000)); err != nil {
		return err
	}
	if err = a.d.SetUp(); err != nil {
		return err
	}

	conn, err := socketcan.DialContext(ctx, "can", a.cfg.Port)
	if err != nil {
		return err
	}
	a.tx = socketcan.NewTransmitter(conn)
	a.rx = socketcan.NewReceiver(conn)

	go a.recvManager(ctx)
	go a.sendManager(ctx)
	return nil
}

func (a *SocketCAN) Close() error {
	a.BaseAdapter.Close()
	if a.d != nil {
		return a.d.SetDown()
	}
	return nil
}

func (a *SocketCAN) recvManager(ctx context.Context) {
	runtime.LockOSThread()
	for {
		select {
		case <-a.close:
			return
		case <-ctx.Done():
			return
		default:
			if !a.rx.Receive() {
				continue
			}
			f := a.rx.Frame()
			if !a.wanted(f.ID) {
				continue
			}
			frame := obdcan.NewFrame(f.ID, f.Data[0:f.Length])
			frame.Extended = f.IsExtended
			select {
			case a.recv <- frame:
			default:
				a.SetError(obdcan.ErrDroppedFrame)
			}
		}
	}
}

func (a *SocketCAN) wanted(id uint32) bool {
	if len(a.cfg.CANFilter) == 0 {
		return true
	}
	for _, f := range a.cfg.CANFilter {
		if f == id {
			return true
		}
	}
	return false
}

func (a *SocketCAN) sendManager(ctx context.Context) {
	runtime.LockOSThread()
	for {
		select {
		case <-a.close:
			return
		case <-ctx.Done():
			return
		case f := <-a.send:
			frame := can.Frame{
				ID:         f.Identifier,
				Length:     uint8(f.Length()),
				IsExtended: f.Extended || a.cfg.UseExtendedID,
			}
			copy(frame.Data[:], f.Data)
			if err := a.tx.TransmitFrame(ctx, frame); err != nil {
				a.SetError(fmt.Errorf("send error: %w", err))
			}
		}
	}
}

func FindDevices() (dev []string) {
	iFaces, _ := net.Interfaces()
	for _, i := range iFaces {
		if strings.Contains(i.Name, "can") {
			dev = append(dev, i.Name)
		}
	}
	return
}
