package main

import (
	"fmt"
	"strconv"
	"strings"

	"memstruct/config"
	"memstruct/process"
	"memstruct/process_blob"
	"memstruct/remote"

	"github.com/spf13/pflag"
)

// options are the flags shared by every subcommand.
type options struct {
	layoutFile string
	dumpDir    string
	pid        int
	cachePages int
	staticBase string
	verbose    bool
	noColor    bool
}

func (o *options) register(fs *pflag.FlagSet) {
	fs.StringVarP(&o.layoutFile, "file", "f", "", "layout file (YAML)")
	fs.StringVar(&o.dumpDir, "dump", "", "read memory from a saved dump directory")
	fs.IntVar(&o.pid, "pid", 0, "read memory from a live process")
	fs.IntVar(&o.cachePages, "cache-pages", 0, "cache up to N pages of target memory")
	fs.StringVar(&o.staticBase, "static-base", "", "override the layout's static base")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "log what is being opened")
	fs.BoolVar(&o.noColor, "no-color", false, "disable colored output")
}

// session is a loaded layout plus the memory it is applied to.
type session struct {
	layout *config.Layout
	mem    process.Memory
	proc   process.Process
	dump   *process_blob.ProcessDump
}

func (o *options) loadLayout() (*config.Layout, error) {
	if o.layoutFile == "" {
		return nil, fmt.Errorf("a layout file is required (-f)")
	}
	l, err := config.Load(o.layoutFile)
	if err != nil {
		return nil, err
	}
	if o.staticBase != "" {
		base, err := parseAddress(o.staticBase)
		if err != nil {
			return nil, fmt.Errorf("--static-base: %w", err)
		}
		l.StaticBase = base
	}
	if o.verbose {
		log.Infoln("Loaded", len(l.Registry.Names()), "types and", len(l.Functions), "functions from", o.layoutFile)
	}
	return l, nil
}

func (o *options) openProcess() (process.Process, error) {
	switch {
	case o.dumpDir != "" && o.pid != 0:
		return nil, fmt.Errorf("--dump and --pid are mutually exclusive")
	case o.dumpDir != "":
		dump := process_blob.NewProcessDump()
		if err := dump.Load(o.dumpDir); err != nil {
			return nil, err
		}
		if o.verbose {
			log.Infoln("Loaded dump of", dump.Name, "with", len(dump.MemoryMap), "regions")
		}
		return dump, nil
	case o.pid != 0:
		proc, err := openLive(process.ProcessID(o.pid))
		if err != nil {
			return nil, fmt.Errorf("attaching to process %d: %w", o.pid, err)
		}
		if o.verbose {
			log.Infoln("Attached to process", o.pid)
		}
		return proc, nil
	}
	return nil, fmt.Errorf("no memory source: use --dump or --pid")
}

// open loads the layout and memory source and attaches them.
func (o *options) open() (*session, error) {
	l, err := o.loadLayout()
	if err != nil {
		return nil, err
	}
	proc, err := o.openProcess()
	if err != nil {
		return nil, err
	}

	s := &session{layout: l, mem: proc, proc: proc}
	s.dump, _ = proc.(*process_blob.ProcessDump)
	if o.cachePages > 0 {
		cache, err := process.NewPageCache(proc, o.cachePages)
		if err != nil {
			proc.Close()
			return nil, err
		}
		s.mem = cache
	}
	l.Attach(s.mem)
	return s, nil
}

func (s *session) Close() error {
	return s.proc.Close()
}

// bind binds typeName at the address text.
func (s *session) bind(typeName, addrText string) (*remote.Instance, error) {
	addr, err := parseAddress(addrText)
	if err != nil {
		return nil, err
	}
	return s.layout.Bind(typeName, s.mem, addr)
}

// walk follows a dotted field path and returns the instance holding the
// last field together with its name.
func walk(inst *remote.Instance, path string) (*remote.Instance, string, error) {
	parts := strings.Split(path, ".")
	for _, p := range parts[:len(parts)-1] {
		child, err := inst.Child(p)
		if err != nil {
			return nil, "", err
		}
		if child == nil {
			return nil, "", fmt.Errorf("%s is null", p)
		}
		inst = child
	}
	return inst, parts[len(parts)-1], nil
}

func parseAddress(s string) (process.ProcessMemoryAddress, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad address %q", s)
	}
	return process.ProcessMemoryAddress(v), nil
}
