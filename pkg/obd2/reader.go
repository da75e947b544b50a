package obd2

import "time"

type ReaderState uint8

const (
	ReaderIdle ReaderState = iota
	ReaderReadingStored
	ReaderReadingPending
	ReaderReadingCleared
	ReaderDone
	ReaderError
)

// readPhases maps each read phase to the service it issues and the status
// its codes are tagged with. Order matters: stored, then pending, then
// cleared.
var readPhases = []struct {
	service byte
	status  Status
	next    ReaderState
}{
	{ServiceShowStoredDTCs, Stored, ReaderReadingPending},
	{ServiceShowPendingDTCs, Pending, ReaderReadingCleared},
	{ServiceShowClearedDTCs, Cleared, ReaderDone},
}

// CodeReader reads stored, pending and cleared trouble codes in strict
// sequence. A failure on any one service aborts the whole read; partial
// results are discarded. Drive it with Start once and Process on every
// loop iteration until Done reports true.
type CodeReader struct {
	session *Session
	state   ReaderState
	codes   []DTC
	err     error
}

const readerOwner = "code-reader"

func NewCodeReader(session *Session) *CodeReader {
	return &CodeReader{session: session}
}

// Start begins a fresh read. Restartable from any terminal state; the
// prior result set is cleared. Fails when another client holds the
// session.
func (r *CodeReader) Start() error {
	// a fresh start abandons anything left in flight from a prior run
	r.session.Release(readerOwner)
	if err := r.session.Acquire(readerOwner); err != nil {
		return err
	}
	r.codes = nil
	r.err = nil
	if err := r.session.Issue(readerOwner, ServiceShowStoredDTCs); err != nil {
		r.finish(ReaderError, err)
		return err
	}
	r.state = ReaderReadingStored
	return nil
}

// Process advances the active phase. Bounded work, returns promptly.
func (r *CodeReader) Process() {
	phase := r.phase()
	if phase < 0 {
		return
	}
	r.session.Poll(time.Now())
	switch r.session.State() {
	case SessionFailed:
		r.codes = nil
		r.finish(ReaderError, r.session.Err())
	case SessionComplete:
		resp := r.session.Response()
		if !resp.Negative {
			r.codes = append(r.codes, DecodeDTCs(recordBytes(resp.Data), readPhases[phase].status)...)
		}
		// a refusal of a read service means no codes of this kind
		next := readPhases[phase].next
		if next == ReaderDone {
			r.finish(ReaderDone, nil)
			return
		}
		if err := r.session.Issue(readerOwner, readPhases[phase+1].service); err != nil {
			r.codes = nil
			r.finish(ReaderError, err)
			return
		}
		r.state = next
	}
}

func (r *CodeReader) phase() int {
	switch r.state {
	case ReaderReadingStored:
		return 0
	case ReaderReadingPending:
		return 1
	case ReaderReadingCleared:
		return 2
	}
	return -1
}

func (r *CodeReader) finish(state ReaderState, err error) {
	r.state = state
	r.err = err
	r.session.Release(readerOwner)
}

func (r *CodeReader) State() ReaderState {
	return r.state
}

func (r *CodeReader) Done() bool {
	return r.state == ReaderDone || r.state == ReaderError
}

// Err is nil unless the read failed.
func (r *CodeReader) Err() error {
	return r.err
}

// Codes returns the accumulated result set in phase order. Valid only
// after a clean finish; empty on error.
func (r *CodeReader) Codes() []DTC {
	if r.state != ReaderDone {
		return nil
	}
	return r.codes
}

// recordBytes strips the DTC-count byte that precedes the packed records
// in a read-DTC response payload.
func recordBytes(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	return data[1:]
}
