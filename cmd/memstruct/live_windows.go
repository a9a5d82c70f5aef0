//go:build windows

package main

import (
	"memstruct/process"
	"memstruct/process_windows"
)

func openLive(pid process.ProcessID) (process.Process, error) {
	return process_windows.NewWithPID(pid)
}
