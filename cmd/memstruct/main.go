// Command memstruct inspects typed structures in a process or a saved dump
// using layouts declared in YAML files.
package main

import (
	"os"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

var log = logger.NewLogger(coloransi.Color(coloransi.ColorLimeGreen, coloransi.ColorPurple, "memstruct"))

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
