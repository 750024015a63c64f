// Package proc runs and tracks the external helper processes the daemon
// supervises. A Process owns its exec.Cmd, reaps it in the background and
// keeps the tail of its combined output for crash reports.
package proc
