// Package ptracearch isolates the architecture-dependent details the
// driver needs: reading and writing the program counter in a
// PTRACE_GETREGS result, and setting up/reading back a raw syscall's
// registers for the driver's remote syscall injection (see
// internal/driver's remoteSyscall). Each GOARCH this module supports
// gets its own file; adding an architecture means adding a file here,
// not touching internal/driver.
package ptracearch
