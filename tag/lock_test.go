package tag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSequencer(layout Layout) *Sequencer {
	s := NewSequencer(layout)
	s.Settle = 0
	return s
}

// freshNTAG213 sets the factory values on the pages the lock sequence
// touches.
func freshNTAG213(f *fakeTag) {
	f.setPage(0x02, [PageSize]byte{0x48, 0x00, 0x00, 0x00}) // serial tail + clear locks
	f.setPage(0x28, [PageSize]byte{0x00, 0x00, 0x00, 0xBD})
	f.setPage(0x2A, [PageSize]byte{0x00, 0x05, 0x00, 0x00})
}

func TestSequencerFreshTag(t *testing.T) {
	f := newFakeTag()
	freshNTAG213(f)
	d := NewDevice(f)

	rep, err := testSequencer(NTAG213).Run(d)
	require.NoError(t, err)
	require.NoError(t, rep.ConfigErr)

	assert.Equal(t, StageLocked, rep.Static)
	assert.Equal(t, StageLocked, rep.Dynamic)
	assert.Equal(t, StageLocked, rep.Config)

	// Static lock preserves the serial bytes.
	assert.Equal(t, [PageSize]byte{0x48, 0x00, 0xFF, 0xFF}, f.pages[0x02])
	// Dynamic lock bytes all set.
	got := f.pages[0x28]
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF}, got[:3])
	// CFGLCK set, other config bits preserved.
	assert.Equal(t, [PageSize]byte{0x40, 0x05, 0x00, 0x00}, f.pages[0x2A])
}

func TestSequencerSkipsLockedStages(t *testing.T) {
	f := newFakeTag()
	f.setPage(0x02, [PageSize]byte{0x48, 0x00, 0xFF, 0xFF})
	f.setPage(0x28, [PageSize]byte{0xFF, 0xFF, 0xFF, 0xBD})
	f.setPage(0x2A, [PageSize]byte{0x40, 0x05, 0x00, 0x00})
	d := NewDevice(f)

	rep, err := testSequencer(NTAG213).Run(d)
	require.NoError(t, err)

	assert.Equal(t, StageAlreadyLocked, rep.Static)
	assert.Equal(t, StageAlreadyLocked, rep.Dynamic)
	assert.Equal(t, StageAlreadyLocked, rep.Config)
	// No writes were issued at all.
	assert.Empty(t, f.writes)
}

func TestSequencerStaticFailureStopsSequence(t *testing.T) {
	f := newFakeTag()
	freshNTAG213(f)
	f.dropWrites[0x02] = 10 // static lock never sticks
	d := NewDevice(f)

	seq := testSequencer(NTAG213)
	rep, err := seq.Run(d)
	require.Error(t, err)

	var ve *VerifyError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, StageStatic, ve.Stage)

	assert.Equal(t, StageFailed, rep.Static)
	assert.Equal(t, StageNotRun, rep.Dynamic)
	assert.Equal(t, StageNotRun, rep.Config)

	// Exactly Attempts writes to the static page, none beyond.
	assert.Len(t, f.writes, seq.Attempts)
	for _, page := range f.writes {
		assert.Equal(t, byte(0x02), page)
	}
}

func TestSequencerRetriesOnce(t *testing.T) {
	f := newFakeTag()
	freshNTAG213(f)
	f.dropWrites[0x02] = 1 // first write lost, second sticks
	d := NewDevice(f)

	rep, err := testSequencer(NTAG213).Run(d)
	require.NoError(t, err)
	assert.Equal(t, StageLocked, rep.Static)
}

func TestSequencerConfigFailureIsAdvisory(t *testing.T) {
	f := newFakeTag()
	freshNTAG213(f)
	f.failSW[0x2A] = 0x6300
	d := NewDevice(f)

	rep, err := testSequencer(NTAG213).Run(d)
	require.NoError(t, err)

	assert.Equal(t, StageLocked, rep.Static)
	assert.Equal(t, StageLocked, rep.Dynamic)
	assert.Equal(t, StageFailed, rep.Config)
	assert.Error(t, rep.ConfigErr)
}

func TestSequencerTransportLoss(t *testing.T) {
	f := newFakeTag()
	freshNTAG213(f)
	f.lost = true
	d := NewDevice(f)

	rep, err := testSequencer(NTAG213).Run(d)
	assert.ErrorIs(t, err, ErrLost)
	assert.Equal(t, StageFailed, rep.Static)
}

func TestProbe(t *testing.T) {
	tests := []struct {
		cc   byte
		want string
	}{
		{0x12, "NTAG213"},
		{0x3E, "NTAG215"},
		{0x6F, "NTAG216"},
	}
	for _, tt := range tests {
		f := newFakeTag()
		f.setPage(0x03, [PageSize]byte{0xE1, 0x10, tt.cc, 0x00})

		layout, err := Probe(NewDevice(f))
		require.NoError(t, err)
		assert.Equal(t, tt.want, layout.Name)
	}
}

func TestProbeUnknownSize(t *testing.T) {
	f := newFakeTag()
	f.setPage(0x03, [PageSize]byte{0xE1, 0x10, 0x44, 0x00})

	_, err := Probe(NewDevice(f))
	assert.Error(t, err)
}

func TestLayoutByName(t *testing.T) {
	l, err := LayoutByName("ntag215")
	require.NoError(t, err)
	assert.Equal(t, byte(0x82), l.DynamicLockPage)
	assert.Equal(t, byte(0x84), l.ConfigPage)

	_, err = LayoutByName("mifare1k")
	assert.Error(t, err)
}
