package obd2_test

import (
	"context"
	"testing"
	"time"

	"github.com/carloop/obdcan"
	"github.com/carloop/obdcan/adapter"
	"github.com/carloop/obdcan/pkg/obd2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSession wires a session to a virtual bus whose far side is the
// given responder.
func newTestSession(t *testing.T, responder func(*obdcan.Frame) []*obdcan.Frame) *obd2.Session {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dev, err := adapter.NewVirtual(&obdcan.AdapterConfig{OnError: func(error) {}})
	require.NoError(t, err)
	dev.(*adapter.Virtual).Responder = responder

	client, err := obdcan.New(ctx, dev)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	session := obd2.NewSession(ctx, client)
	t.Cleanup(session.Close)
	return session
}

func singleFrame(id uint32, payload ...byte) *obdcan.Frame {
	data := make([]byte, 8)
	data[0] = byte(len(payload))
	copy(data[1:], payload)
	return obdcan.NewFrame(id, data)
}

// simulatedECU answers each diagnostic service with a fixed single-frame
// payload. Services with no entry go unanswered.
func simulatedECU(responses map[byte][]byte) func(*obdcan.Frame) []*obdcan.Frame {
	return func(f *obdcan.Frame) []*obdcan.Frame {
		if f.Identifier != obd2.FunctionalRequestID || len(f.Data) < 2 {
			return nil
		}
		if n := f.Data[0] & 0x0F; n == 0 {
			return nil
		}
		payload, ok := responses[f.Data[1]]
		if !ok {
			return nil
		}
		return []*obdcan.Frame{singleFrame(0x7E8, payload...)}
	}
}

func pollSession(t *testing.T, s *obd2.Session) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.State() == obd2.SessionAwaitingResponse {
		if time.Now().After(deadline) {
			t.Fatal("session still awaiting response")
		}
		s.Poll(time.Now())
		time.Sleep(time.Millisecond)
	}
}

func TestSessionPositiveResponse(t *testing.T) {
	session := newTestSession(t, simulatedECU(map[byte][]byte{
		obd2.ServiceShowStoredDTCs: {0x43, 0x01, 0x04, 0x15},
	}))
	require.NoError(t, session.Acquire("test"))
	require.NoError(t, session.Issue("test", obd2.ServiceShowStoredDTCs))
	pollSession(t, session)

	require.Equal(t, obd2.SessionComplete, session.State())
	resp := session.Response()
	require.NotNil(t, resp)
	assert.False(t, resp.Negative)
	assert.Equal(t, []byte{0x01, 0x04, 0x15}, resp.Data)
}

func TestSessionNegativeResponse(t *testing.T) {
	session := newTestSession(t, simulatedECU(map[byte][]byte{
		obd2.ServiceClearDTCs: {0x7F, obd2.ServiceClearDTCs, 0x22},
	}))
	require.NoError(t, session.Acquire("test"))
	require.NoError(t, session.Issue("test", obd2.ServiceClearDTCs))
	pollSession(t, session)

	require.Equal(t, obd2.SessionComplete, session.State())
	resp := session.Response()
	require.True(t, resp.Negative)
	assert.Equal(t, byte(0x22), resp.Code)
	assert.Nil(t, session.Err())
}

func TestSessionResponsePendingExtendsDeadline(t *testing.T) {
	// the ECU answers "response pending" first and the real reply right
	// after, in the same burst
	session := newTestSession(t, func(f *obdcan.Frame) []*obdcan.Frame {
		if f.Identifier != obd2.FunctionalRequestID {
			return nil
		}
		return []*obdcan.Frame{
			singleFrame(0x7E8, 0x7F, obd2.ServiceClearDTCs, 0x78),
			singleFrame(0x7E8, 0x44),
		}
	})
	require.NoError(t, session.Acquire("test"))
	require.NoError(t, session.Issue("test", obd2.ServiceClearDTCs))
	pollSession(t, session)

	require.Equal(t, obd2.SessionComplete, session.State())
	assert.False(t, session.Response().Negative)
}

func TestSessionTimeout(t *testing.T) {
	session := newTestSession(t, simulatedECU(nil))
	session.SetTimeout(50 * time.Millisecond)
	require.NoError(t, session.Acquire("test"))
	require.NoError(t, session.Issue("test", obd2.ServiceShowStoredDTCs))
	pollSession(t, session)

	require.Equal(t, obd2.SessionFailed, session.State())
	assert.ErrorIs(t, session.Err(), obd2.ErrRequestTimeout)
}

func TestSessionStaleResponseDropped(t *testing.T) {
	// a reply echoing a different service must not complete the request
	session := newTestSession(t, simulatedECU(map[byte][]byte{
		obd2.ServiceShowStoredDTCs: {0x47, 0x00},
	}))
	session.SetTimeout(50 * time.Millisecond)
	require.NoError(t, session.Acquire("test"))
	require.NoError(t, session.Issue("test", obd2.ServiceShowStoredDTCs))
	pollSession(t, session)

	require.Equal(t, obd2.SessionFailed, session.State())
	assert.ErrorIs(t, session.Err(), obd2.ErrRequestTimeout)
}

func TestSessionRejectsSecondRequest(t *testing.T) {
	session := newTestSession(t, simulatedECU(nil))
	require.NoError(t, session.Acquire("test"))
	require.NoError(t, session.Issue("test", obd2.ServiceShowStoredDTCs))
	assert.ErrorIs(t, session.Issue("test", obd2.ServiceShowPendingDTCs), obd2.ErrRequestOutstanding)
}

func TestSessionOwnership(t *testing.T) {
	session := newTestSession(t, simulatedECU(nil))
	require.NoError(t, session.Acquire("first"))
	assert.ErrorIs(t, session.Acquire("second"), obd2.ErrSessionHeld)
	assert.ErrorIs(t, session.Issue("second", obd2.ServiceShowStoredDTCs), obd2.ErrNotOwner)

	// releasing by a non-owner is a no-op
	session.Release("second")
	assert.ErrorIs(t, session.Acquire("second"), obd2.ErrSessionHeld)

	session.Release("first")
	require.NoError(t, session.Acquire("second"))
}
