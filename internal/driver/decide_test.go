package driver

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstructionRetired(t *testing.T) {
	assert.False(t, instructionRetired(0x1000, 0x1000), "PC unchanged: instruction has not stepped yet")
	assert.True(t, instructionRetired(0x1003, 0x1000), "PC moved: instruction retired")
}

func TestStateStrings(t *testing.T) {
	cases := map[state]string{
		startUp:    "start_up",
		waitFault:  "wait_fault",
		singleStep: "single_step",
	}
	for s, want := range cases {
		assert.Equal(t, want, s.String())
	}
}

func TestDefaultSignals(t *testing.T) {
	s := DefaultSignals()
	assert.Equal(t, syscall.SIGSEGV, s.Fault)
	assert.Equal(t, syscall.SIGUSR1, s.Notify)
}
