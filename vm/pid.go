// Package vm provides the building blocks of the simulated virtual memory
// system, including process IDs and single-level page tables.
package vm

// PID stands for Process ID.
type PID uint32
