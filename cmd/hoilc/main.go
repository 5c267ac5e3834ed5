// Command hoilc compiles a HOIL source module into a MIL binary.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/xyproto/hoil/internal/check"
	"github.com/xyproto/hoil/internal/codegen"
	"github.com/xyproto/hoil/internal/diag"
	"github.com/xyproto/hoil/internal/parser"
	"github.com/xyproto/hoil/internal/watch"
)

var (
	outputPath string
	verbose    bool
	watchMode  bool
)

func main() {
	root := &cobra.Command{
		Use:          "hoilc [options] input",
		Short:        "Compile a HOIL module into a MIL binary",
		Version:      "0.1.0",
		Args:         cobra.ExactArgs(1),
		RunE:         runCompile,
		SilenceUsage: true,
	}
	root.Flags().StringVarP(&outputPath, "output", "o", "", "output path (default: input basename + .coil)")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose progress output")
	root.Flags().BoolVarP(&watchMode, "watch", "w", false, "recompile whenever the input file changes")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	if !verbose {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(zerolog.DebugLevel)
}

func runCompile(cmd *cobra.Command, args []string) error {
	inputPath := args[0]
	log := newLogger()

	out := outputPath
	if out == "" {
		base := filepath.Base(inputPath)
		out = strings.TrimSuffix(base, filepath.Ext(base)) + ".coil"
	}

	if !watchMode {
		return compileOnce(inputPath, out, log)
	}

	if err := compileOnce(inputPath, out, log); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	w, err := watch.New(inputPath, func(path string) {
		if err := compileOnce(path, out, log); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return
		}
		fmt.Fprintf(os.Stderr, "hoilc: rebuilt %s\n", out)
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", inputPath, err)
	}
	defer w.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go w.Run()
	<-sig
	return nil
}

// compileOnce runs the full HOIL-to-MIL pipeline once and writes the result
// to out. It is the body both runCompile's single-shot path and every
// recompile triggered by --watch use.
func compileOnce(inputPath, out string, log zerolog.Logger) error {
	src, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("%s: %w", inputPath, err)
	}
	log.Debug().Str("input", inputPath).Int("bytes", len(src)).Msg("read source")

	p := parser.New(src, inputPath)
	mod, err := p.ParseModule()
	if err != nil {
		return err
	}
	log.Debug().Str("module", mod.Name).Int("decls", len(mod.Decls)).Msg("parsed module")

	sink := diag.New()
	checker := check.New(sink)
	global, ok := checker.Check(mod)
	if !ok {
		return sink.Error()
	}
	log.Debug().Msg("type-checked module")

	gen := codegen.New(global)
	bin, err := gen.Generate(mod)
	if err != nil {
		return err
	}
	log.Debug().Int("bytes", len(bin)).Msg("generated MIL binary")

	if err := os.WriteFile(out, bin, 0o644); err != nil {
		return fmt.Errorf("%s: %w", out, err)
	}
	log.Debug().Str("output", out).Msg("wrote binary")
	return nil
}
