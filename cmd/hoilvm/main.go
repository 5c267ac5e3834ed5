// Command hoilvm executes a MIL binary's entry function.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/xyproto/hoil/internal/mil"
	"github.com/xyproto/hoil/internal/vm"
)

var (
	binaryPath string
	stats      bool
	entryName  string
)

func main() {
	root := &cobra.Command{
		Use:          "hoilvm -b binary",
		Short:        "Run a compiled MIL binary's entry function",
		Version:      "0.1.0",
		Args:         cobra.NoArgs,
		RunE:         runVM,
		SilenceUsage: true,
	}
	root.Flags().StringVarP(&binaryPath, "binary", "b", "", "path to the MIL binary to run (required)")
	root.Flags().BoolVarP(&stats, "stats", "s", false, "print instruction/memory/stack statistics after exit")
	root.Flags().StringVar(&entryName, "entry", "main", "name of the entry function")
	root.MarkFlagRequired("binary")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runVM(cmd *cobra.Command, args []string) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	f, err := mil.Open(binaryPath)
	if err != nil {
		return fmt.Errorf("%s: %w", binaryPath, err)
	}
	defer f.Close()

	ex, err := mil.Decode(f.Bytes())
	if err != nil {
		return fmt.Errorf("%s: %w", binaryPath, err)
	}
	code, err := ex.EntryCode(entryName)
	if err != nil {
		return err
	}

	machine := vm.New(vm.NewHostBridge())
	if err := machine.Load(code); err != nil {
		return err
	}
	exitCode, err := machine.Run()
	if err != nil {
		log.Error().Err(err).Msg("machine aborted")
		os.Exit(1)
	}

	if stats {
		snap := machine.Snapshot()
		fmt.Fprintf(os.Stderr, "instruction_count=%d exit_code=%d memory_used=%d stack_used=%d\n",
			snap.InstructionCount, snap.ExitCode, snap.MemoryUsed, snap.StackUsed)
	}

	os.Exit(int(exitCode))
	return nil
}
