package obd2_test

import (
	"testing"

	"github.com/carloop/obdcan/pkg/obd2"
	"github.com/stretchr/testify/assert"
)

func TestResponseIDs(t *testing.T) {
	ids := obd2.ResponseIDs()
	assert.Len(t, ids, 8)
	assert.Equal(t, uint32(0x7E8), ids[0])
	assert.Equal(t, uint32(0x7EF), ids[7])
}

func TestServiceName(t *testing.T) {
	assert.Equal(t, "Show stored DTCs", obd2.ServiceName(obd2.ServiceShowStoredDTCs))
	assert.Equal(t, "0x42", obd2.ServiceName(0x42))
}

func TestTranslateNRC(t *testing.T) {
	assert.Equal(t, "Service not supported", obd2.TranslateNRC(0x11))
	assert.Equal(t, "Unknown error 99", obd2.TranslateNRC(0x99))
}
