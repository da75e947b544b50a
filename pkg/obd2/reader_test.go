package obd2_test

import (
	"testing"
	"time"

	"github.com/carloop/obdcan/pkg/obd2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func driveReader(t *testing.T, r *obd2.CodeReader) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !r.Done() {
		if time.Now().After(deadline) {
			t.Fatal("reader did not finish")
		}
		r.Process()
		time.Sleep(time.Millisecond)
	}
}

func TestCodeReaderThreePhases(t *testing.T) {
	session := newTestSession(t, simulatedECU(map[byte][]byte{
		obd2.ServiceShowStoredDTCs:  {0x43, 0x01, 0x04, 0x15},
		obd2.ServiceShowPendingDTCs: {0x47, 0x01, 0x00, 0x10},
		obd2.ServiceShowClearedDTCs: {0x4A, 0x01, 0xC3, 0x00},
	}))
	reader := obd2.NewCodeReader(session)

	require.NoError(t, reader.Start())
	driveReader(t, reader)

	require.Equal(t, obd2.ReaderDone, reader.State())
	require.NoError(t, reader.Err())
	codes := reader.Codes()
	require.Len(t, codes, 3)
	assert.Equal(t, obd2.DTC{Category: obd2.Powertrain, Code: 0x0415, Status: obd2.Stored}, codes[0])
	assert.Equal(t, obd2.DTC{Category: obd2.Powertrain, Code: 0x0010, Status: obd2.Pending}, codes[1])
	assert.Equal(t, obd2.DTC{Category: obd2.Network, Code: 0x0300, Status: obd2.Cleared}, codes[2])
	assert.Equal(t, "P0415s,P0010p,U0300c", obd2.FormatDTCs(codes))
}

func TestCodeReaderNoCodes(t *testing.T) {
	session := newTestSession(t, simulatedECU(map[byte][]byte{
		obd2.ServiceShowStoredDTCs:  {0x43, 0x00},
		obd2.ServiceShowPendingDTCs: {0x47, 0x00},
		obd2.ServiceShowClearedDTCs: {0x4A, 0x00},
	}))
	reader := obd2.NewCodeReader(session)

	require.NoError(t, reader.Start())
	driveReader(t, reader)

	require.Equal(t, obd2.ReaderDone, reader.State())
	assert.NoError(t, reader.Err())
	assert.Empty(t, reader.Codes())
}

func TestCodeReaderNegativeReadMeansNoCodes(t *testing.T) {
	// some vehicles refuse service 0x0A; that is not a failed read
	session := newTestSession(t, simulatedECU(map[byte][]byte{
		obd2.ServiceShowStoredDTCs:  {0x43, 0x01, 0x04, 0x15},
		obd2.ServiceShowPendingDTCs: {0x47, 0x00},
		obd2.ServiceShowClearedDTCs: {0x7F, obd2.ServiceShowClearedDTCs, 0x11},
	}))
	reader := obd2.NewCodeReader(session)

	require.NoError(t, reader.Start())
	driveReader(t, reader)

	require.Equal(t, obd2.ReaderDone, reader.State())
	require.NoError(t, reader.Err())
	codes := reader.Codes()
	require.Len(t, codes, 1)
	assert.Equal(t, "P0415s", codes[0].Suffixed())
}

func TestCodeReaderTimeoutAbortsRead(t *testing.T) {
	// pending never answered; stored codes must not leak out
	session := newTestSession(t, simulatedECU(map[byte][]byte{
		obd2.ServiceShowStoredDTCs: {0x43, 0x01, 0x04, 0x15},
	}))
	session.SetTimeout(50 * time.Millisecond)
	reader := obd2.NewCodeReader(session)

	require.NoError(t, reader.Start())
	driveReader(t, reader)

	require.Equal(t, obd2.ReaderError, reader.State())
	assert.ErrorIs(t, reader.Err(), obd2.ErrRequestTimeout)
	assert.Nil(t, reader.Codes())
}

func TestCodeReaderRestart(t *testing.T) {
	session := newTestSession(t, simulatedECU(map[byte][]byte{
		obd2.ServiceShowStoredDTCs:  {0x43, 0x01, 0x04, 0x15},
		obd2.ServiceShowPendingDTCs: {0x47, 0x00},
		obd2.ServiceShowClearedDTCs: {0x4A, 0x00},
	}))
	reader := obd2.NewCodeReader(session)

	for i := 0; i < 2; i++ {
		require.NoError(t, reader.Start())
		driveReader(t, reader)
		require.NoError(t, reader.Err())
		// results do not accumulate across runs
		assert.Len(t, reader.Codes(), 1)
	}
}

func TestCodeReaderRestartMidRead(t *testing.T) {
	session := newTestSession(t, simulatedECU(map[byte][]byte{
		obd2.ServiceShowStoredDTCs:  {0x43, 0x01, 0x04, 0x15},
		obd2.ServiceShowPendingDTCs: {0x47, 0x00},
		obd2.ServiceShowClearedDTCs: {0x4A, 0x00},
	}))
	reader := obd2.NewCodeReader(session)

	require.NoError(t, reader.Start())
	// abandon the in-flight request and start over
	require.NoError(t, reader.Start())
	driveReader(t, reader)

	require.Equal(t, obd2.ReaderDone, reader.State())
	assert.Len(t, reader.Codes(), 1)
}

func TestReaderAndClearerShareSessionExclusively(t *testing.T) {
	session := newTestSession(t, simulatedECU(nil))
	reader := obd2.NewCodeReader(session)
	clearer := obd2.NewCodeClearer(session)

	require.NoError(t, reader.Start())
	assert.ErrorIs(t, clearer.Start(), obd2.ErrSessionHeld)
}
