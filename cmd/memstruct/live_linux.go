//go:build linux

package main

import (
	"memstruct/process"
	"memstruct/process_linux"
)

func openLive(pid process.ProcessID) (process.Process, error) {
	return process_linux.NewWithPID(pid)
}
