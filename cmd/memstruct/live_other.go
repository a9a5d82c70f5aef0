//go:build !linux && !windows

package main

import (
	"fmt"
	"runtime"

	"memstruct/process"
)

func openLive(pid process.ProcessID) (process.Process, error) {
	return nil, fmt.Errorf("live processes are not supported on %s", runtime.GOOS)
}
