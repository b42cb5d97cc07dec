package devices

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkOpenFailureIsSoft(t *testing.T) {
	link := NewLink(newFakeOpener(nil).Open)

	err := link.Open(testConfig("/dev/ttyNOPE"))
	require.Error(t, err)

	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "/dev/ttyNOPE", connErr.Port)
	assert.ErrorIs(t, err, errNoSuchPort)

	state := link.State()
	assert.False(t, state.Connected())
	assert.Contains(t, state.LastError, "/dev/ttyNOPE")
	assert.False(t, link.IsOpen())
}

func TestLinkOpenRejectsInvalidConfig(t *testing.T) {
	port := &fakePort{}
	link := NewLink(newFakeOpener(map[string]*fakePort{"COM3": port}).Open)

	cfg := testConfig("COM3")
	cfg.BaudRate = 1234
	err := link.Open(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.False(t, link.State().Connected())
}

func TestLinkOpenDrivesControlLines(t *testing.T) {
	port := &fakePort{}
	opener := newFakeOpener(map[string]*fakePort{"COM3": port})
	link := NewLink(opener.Open)

	cfg := testConfig("COM3")
	cfg.DTR = true
	cfg.RTS = false
	require.NoError(t, link.Open(cfg))

	require.NotNil(t, port.dtr)
	require.NotNil(t, port.rts)
	assert.True(t, *port.dtr)
	assert.False(t, *port.rts)

	require.Len(t, opener.modes, 1)
	mode := opener.modes[0]
	assert.Equal(t, 9600, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	require.NotNil(t, mode.InitialStatusBits)
	assert.True(t, mode.InitialStatusBits.DTR)
	assert.False(t, mode.InitialStatusBits.RTS)

	assert.True(t, link.State().Connected())
	assert.Empty(t, link.State().LastError)
}

func TestLinkCloseIsIdempotent(t *testing.T) {
	port := &fakePort{}
	link := NewLink(newFakeOpener(map[string]*fakePort{"COM3": port}).Open)
	require.NoError(t, link.Open(testConfig("COM3")))

	link.Close()
	link.Close()

	assert.Equal(t, Disconnected, link.State().State)
	assert.Equal(t, 1, port.closeCount())
}

func TestLinkReopenClosesPreviousHandle(t *testing.T) {
	first := &fakePort{}
	second := &fakePort{}
	link := NewLink(newFakeOpener(map[string]*fakePort{"COM3": first, "COM4": second}).Open)

	require.NoError(t, link.Open(testConfig("COM3")))
	require.NoError(t, link.Open(testConfig("COM4")))

	assert.Equal(t, 1, first.closeCount())
	assert.Zero(t, second.closeCount())
	assert.Equal(t, "COM4", link.Config().Port)
}

func TestLinkUseBeforeOpen(t *testing.T) {
	link := NewLink(newFakeOpener(nil).Open)

	assert.ErrorIs(t, link.Write([]byte("P\r\n")), ErrNotConnected)
	assert.ErrorIs(t, link.DiscardInput(), ErrNotConnected)

	_, ok, err := link.ReadByte()
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Zero(t, link.BytesAvailable())
}

func TestLinkReadByte(t *testing.T) {
	port := &fakePort{}
	link := NewLink(newFakeOpener(map[string]*fakePort{"COM3": port}).Open)
	require.NoError(t, link.Open(testConfig("COM3")))

	_, ok, err := link.ReadByte()
	require.NoError(t, err)
	assert.False(t, ok)

	port.feed("ab")
	assert.Equal(t, 2, link.BytesAvailable())

	b, ok, err := link.ReadByte()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, byte('a'), b)

	require.NoError(t, link.DiscardInput())
	assert.Zero(t, link.BytesAvailable())
}

func TestLinkReadErrorIsIOError(t *testing.T) {
	boom := errors.New("device unplugged")
	port := &fakePort{readErr: boom}
	link := NewLink(newFakeOpener(map[string]*fakePort{"COM3": port}).Open)
	require.NoError(t, link.Open(testConfig("COM3")))

	_, _, err := link.ReadByte()
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "lectura", ioErr.Op)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotConnected)
}

func TestProtocolByName(t *testing.T) {
	assert.Equal(t, Continuous, ProtocolByName("").Mode)
	assert.Equal(t, Continuous, ProtocolByName("continuo").Mode)

	toledo := ProtocolByName(" toledo ")
	assert.Equal(t, Polled, toledo.Mode)
	assert.Equal(t, "TOLEDO", toledo.String())
	assert.Equal(t, []byte("W\r\n"), toledo.Command())

	unknown := ProtocolByName("acme")
	assert.Equal(t, Polled, unknown.Mode)
	assert.Equal(t, []byte("P\r\n"), unknown.Command())

	names := ProtocolNames()
	require.NotEmpty(t, names)
	assert.Equal(t, ContinuousProtocolName, names[0])
	assert.Contains(t, names, "DIBAL")
}

func TestScaleConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultScaleConfig().Validate())

	cfg := DefaultScaleConfig()
	cfg.Port = " "
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	assert.Equal(t, ReturnZero, ParseTimeoutPolicy("cero"))
	assert.Equal(t, ReturnLastKnown, ParseTimeoutPolicy("ultimo_valor"))
	assert.Equal(t, ReturnLastKnown, ParseTimeoutPolicy(""))
}
