package autostart

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandRoundTrip(t *testing.T) {
	exe := `C:\ProgramData\BalanzaAgent\BalanzaAgent.exe`

	assert.Equal(t, `"`+exe+`"`, Command(exe))
	assert.Equal(t, `"`+exe+`" headless`, Command(exe, "headless"))

	assert.Equal(t, exe, ExecutablePath(Command(exe, "headless")))
	assert.Equal(t, exe, ExecutablePath(`"`+exe))
	assert.Equal(t, `C:\bin\agent.exe`, ExecutablePath(`C:\bin\agent.exe --tray`))
}
