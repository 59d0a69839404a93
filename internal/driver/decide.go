package driver

// instructionRetired reports whether the instruction sampled at pc has
// moved on from the address savedPC recorded when the fault was first
// observed. The driver makes the faulting page writable and then
// single-steps the real instruction directly — there is no detour
// through a tracee-side signal handler to return from the way the
// original C driver's single_step state modeled, so a forward-moved PC
// always means retirement; there's nothing to come back to.
func instructionRetired(pc, savedPC uint64) bool {
	return pc != savedPC
}
