// Command hoildump inspects a MIL binary's header and section table without
// executing it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xyproto/hoil/internal/mil"
)

func main() {
	root := &cobra.Command{
		Use:          "hoildump binary",
		Short:        "Inspect a MIL binary's header and sections",
		Version:      "0.1.0",
		Args:         cobra.ExactArgs(1),
		RunE:         runDump,
		SilenceUsage: true,
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDump(cmd *cobra.Command, args []string) error {
	path := args[0]
	f, err := mil.Open(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer f.Close()

	data := f.Bytes()
	h, err := mil.ReadHeader(data)
	if err != nil {
		// Bad magic: report invalid and stop, no further reads.
		fmt.Fprintf(os.Stderr, "%s: invalid MIL container: %v\n", path, err)
		os.Exit(1)
	}
	fmt.Printf("magic:   0x%08x\n", h.Magic)
	fmt.Printf("version: 0x%08x\n", h.Version)
	fmt.Printf("sections: %d\n", h.SectionCount)
	fmt.Printf("flags:   0x%08x\n", h.Flags)

	sections, err := mil.ReadSectionTable(data, h)
	if err != nil {
		return err
	}
	for i, s := range sections {
		fmt.Printf("  [%d] type=%d offset=%d size=%d\n", i, s.Type, s.Offset, s.Size)
	}

	ex, err := mil.Decode(data)
	if err != nil {
		return err
	}
	for _, fn := range ex.Functions {
		kind := "function"
		if fn.IsExtern {
			kind = "extern"
		}
		fmt.Printf("%s %s (%d params) -> type %d\n", kind, fn.Name, len(fn.ParamTypes), fn.RetType)
	}
	return nil
}
