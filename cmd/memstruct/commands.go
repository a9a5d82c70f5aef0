package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"memstruct/config"
	"memstruct/hexdump"
	"memstruct/layout"
	"memstruct/pod"
	"memstruct/process"
	"memstruct/process_blob"
	"memstruct/remote"
	"memstruct/search"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

func newRootCommand() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:          "memstruct",
		Short:        "Inspect typed structures in process memory or a saved dump.",
		SilenceUsage: true,
	}
	o.register(root.PersistentFlags())

	root.AddCommand(
		newLayoutCommand(o),
		newShowCommand(o),
		newProjectCommand(o),
		newGetCommand(o),
		newSetCommand(o),
		newRawCommand(o),
		newSearchCommand(o),
		newResolveCommand(o),
		newDumpCommand(o),
	)
	return root
}

// withSession opens a session for the duration of fn.
func withSession(o *options, fn func(*session) error) error {
	s, err := o.open()
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func newLayoutCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "layout [TYPE...]",
		Short: "Print the field tables of the named types, or of every type.",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := o.loadLayout()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				args = l.Registry.Names()
			}
			for _, name := range args {
				t, err := l.Registry.Struct(name)
				if err != nil {
					return err
				}
				if err := pod.PrintLayout(t, cmd.OutOrStdout()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}
}

func newShowCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show TYPE ADDR",
		Short: "Print every field of TYPE bound at ADDR.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(o, func(s *session) error {
				inst, err := s.bind(args[0], args[1])
				if err != nil {
					return err
				}
				return pod.PrintInstance(inst, cmd.OutOrStdout())
			})
		},
	}
}

func newProjectCommand(o *options) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "project TYPE ADDR",
		Short: "Print TYPE bound at ADDR as a JSON or YAML document.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(o, func(s *session) error {
				inst, err := s.bind(args[0], args[1])
				if err != nil {
					return err
				}
				rec, err := remote.Project(inst)
				if err != nil {
					return err
				}
				return writeRecord(cmd.OutOrStdout(), rec, format)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", "json", "output format: json or yaml")
	return cmd
}

func writeRecord(w io.Writer, rec remote.Record, format string) error {
	var (
		out []byte
		err error
	)
	switch format {
	case "json":
		out, err = json.MarshalIndent(rec, "", "  ")
		out = append(out, '\n')
	case "yaml":
		out, err = yaml.Marshal(rec)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func newGetCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get TYPE ADDR FIELD[.FIELD...]",
		Short: "Print one field.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(o, func(s *session) error {
				inst, err := s.bind(args[0], args[1])
				if err != nil {
					return err
				}
				holder, name, err := walk(inst, args[2])
				if err != nil {
					return err
				}
				v, err := holder.Get(name)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), formatValue(v))
				return nil
			})
		},
	}
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case process.ProcessMemoryAddress:
		return x.ToString()
	case *remote.Instance:
		return x.String()
	}
	return fmt.Sprintf("%v", v)
}

func newSetCommand(o *options) *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "set TYPE ADDR FIELD[.FIELD...] VALUE",
		Short: "Write one scalar, pointer or bitfield field.",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(o, func(s *session) error {
				inst, err := s.bind(args[0], args[1])
				if err != nil {
					return err
				}
				holder, name, err := walk(inst, args[2])
				if err != nil {
					return err
				}
				if err := holder.Set(name, args[3]); err != nil {
					return err
				}
				if !save {
					return nil
				}
				if s.dump == nil {
					return fmt.Errorf("--save needs --dump")
				}
				return s.dump.Save(o.dumpDir)
			})
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "write the modified dump back to its directory")
	return cmd
}

func newRawCommand(o *options) *cobra.Command {
	var typeName string
	cmd := &cobra.Command{
		Use:   "raw ADDR [SIZE]",
		Short: "Hex dump memory, optionally overlaying the fields of a type.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(o, func(s *session) error {
				addr, err := parseAddress(args[0])
				if err != nil {
					return err
				}
				opts := hexdump.Options{Address: uint64(addr), Color: !o.noColor}
				size := uint64(0x40)
				if typeName != "" {
					t, err := s.layout.Registry.Struct(typeName)
					if err != nil {
						return err
					}
					size = uint64(t.Size())
					opts.Spans = hexdump.FieldSpans(t)
				}
				if len(args) == 2 {
					if size, err = strconv.ParseUint(args[1], 0, 64); err != nil {
						return fmt.Errorf("bad size %q", args[1])
					}
				}
				opts.IsPointer = func(p uint64) bool {
					return p != 0 && s.proc.IsValidAddress(process.ProcessMemoryAddress(p))
				}
				data, err := s.mem.ReadMemory(addr, process.ProcessMemorySize(size))
				if err != nil {
					return err
				}
				hexdump.DumpToWriter(cmd.OutOrStdout(), data, opts)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&typeName, "type", "t", "", "overlay the fields of this type")
	return cmd
}

func newSearchCommand(o *options) *cobra.Command {
	var (
		typeName string
		depth    int
		size     uint
		align    uint
	)
	cmd := &cobra.Command{
		Use:   "search BASE VALUE",
		Short: "Find pointer paths from BASE to VALUE.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			proc, err := o.openProcess()
			if err != nil {
				return err
			}
			defer proc.Close()

			base, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			prim, ok := layout.LookupPrimitive(typeName)
			if !ok {
				return fmt.Errorf("%q is not a primitive type", typeName)
			}
			results, err := search.Search(proc, base,
				search.WithValue(prim, args[1]),
				search.WithMaxDepth(depth),
				search.WithMaxStructSize(size),
				search.WithMinAlignment(align),
			)
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Fprintln(cmd.OutOrStdout(), r.String())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&typeName, "type", "t", "u32", "primitive type of VALUE")
	cmd.Flags().IntVar(&depth, "depth", 3, "pointers to follow")
	cmd.Flags().UintVar(&size, "size", 256, "bytes scanned behind each pointer")
	cmd.Flags().UintVar(&align, "align", 4, "scan alignment")
	return cmd
}

func newResolveCommand(o *options) *cobra.Command {
	var typeName, addrText string
	cmd := &cobra.Command{
		Use:   "resolve FUNCTION [ARG...]",
		Short: "Resolve a function and print the call that would be made.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(o, func(s *session) error {
				fn, ok := s.layout.Functions[args[0]]
				if !ok {
					return fmt.Errorf("unknown function %q", args[0])
				}
				var inst *remote.Instance
				if typeName != "" {
					var err error
					if inst, err = s.bind(typeName, addrText); err != nil {
						return err
					}
				}
				callArgs, err := coerceArgs(s.layout, fn.Signature(), args[1:])
				if err != nil {
					return err
				}
				call, err := fn.Bind(inst, callArgs...)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintln(w, call.String())
				for n, slot := range call.Payload() {
					if slot.Out {
						fmt.Fprintf(w, "  %d: out %s\n", n, slot.Type)
						continue
					}
					fmt.Fprintf(w, "  %d: %s = %s\n", n, slot.Type, formatValue(slot.Value))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&typeName, "type", "t", "", "bind the function to an instance of this type")
	cmd.Flags().StringVarP(&addrText, "addr", "a", "0", "instance address")
	return cmd
}

// coerceArgs converts textual arguments to the Go values of the signature's
// primitive input types. Other types keep the text.
func coerceArgs(l *config.Layout, sig remote.Signature, args []string) ([]any, error) {
	var in []remote.Arg
	for _, a := range sig.Args {
		if !a.Out {
			in = append(in, a)
		}
	}
	out := make([]any, len(args))
	for n, text := range args {
		out[n] = text
		if n >= len(in) {
			continue
		}
		t, err := l.Registry.Resolve(in[n].Type)
		if err != nil {
			return nil, err
		}
		p, ok := t.(*layout.Primitive)
		if !ok {
			continue
		}
		b, err := p.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", n, err)
		}
		out[n] = p.Decode(b)
	}
	return out, nil
}

func newDumpCommand(o *options) *cobra.Command {
	var maxRegion uint
	cmd := &cobra.Command{
		Use:   "dump DIR",
		Short: "Capture the readable memory of --pid into a dump directory.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.pid == 0 {
				return fmt.Errorf("dump needs --pid")
			}
			proc, err := o.openProcess()
			if err != nil {
				return err
			}
			defer proc.Close()

			dump, err := process_blob.Capture(proc, fmt.Sprintf("pid-%d", o.pid), maxRegion)
			if err != nil {
				return err
			}
			return dump.Save(args[0])
		},
	}
	cmd.Flags().UintVar(&maxRegion, "max-region", 64<<20, "skip regions larger than this many bytes (0 for no limit)")
	return cmd
}
