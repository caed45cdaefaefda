package cmds

import (
	"debug/elf"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/go-pancakes/pancakes/pkg/config"
	"github.com/go-pancakes/pancakes/pkg/logflags"
	"github.com/go-pancakes/pancakes/pkg/pancakes"
	"github.com/go-pancakes/pancakes/pkg/regs"
	"github.com/go-pancakes/pancakes/pkg/shlib"
	"github.com/go-pancakes/pancakes/pkg/version"
)

var (
	// log is whether to enable component logging.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// traceDepth caps the number of frames the trace command collects.
	traceDepth int

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const defaultWalkDepth = 256

const pancakesLongDesc = `Pancakes walks call stacks by interpreting the call-frame information
embedded in executable images. The library is built to be callable from a
signal handler; this tool exposes it for inspection from the command line.`

// New returns an initialized command tree.
func New() *cobra.Command {
	conf = config.LoadConfig()

	rootCommand = &cobra.Command{
		Use:   "pancakes",
		Short: "Pancakes is a call-frame stack walker.",
		Long:  pancakesLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			applyConfigDefaults(cmd.Flags())
			return logflags.Setup(log, logOutput, logDest)
		},
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable component logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", "Comma separated list of components that should produce debug output (walker, decoder, shlib).")
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor.")

	traceCommand := &cobra.Command{
		Use:   "selftrace",
		Short: "Walk and print this process's own stack.",
		Long: `Enumerates the images loaded into this process, builds a walker from
their unwind sections and walks the current stack, printing one line per
frame. Reaching a frame with no unwind information ends the walk; that is
how every complete walk terminates.`,
		RunE: selftraceCmd,
	}
	traceCommand.Flags().IntVarP(&traceDepth, "depth", "d", 0, "Maximum number of frames to collect (default from config, then 256).")
	rootCommand.AddCommand(traceCommand)

	dumpCommand := &cobra.Command{
		Use:   "dump <binary>",
		Short: "Print the unwind entries of a binary.",
		Long:  "Decodes the call-frame information section of the given ELF file and prints the address range of every entry.",
		Args:  cobra.ExactArgs(1),
		RunE:  dumpCmd,
	}
	rootCommand.AddCommand(dumpCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pancakes %s\n%s\n", version.PancakesVersion, version.BuildInfo())
		},
	})

	return rootCommand
}

// applyConfigDefaults fills flags the user did not pass from the config
// file.
func applyConfigDefaults(fs *pflag.FlagSet) {
	if conf == nil {
		return
	}
	if !fs.Changed("log") && conf.Log {
		log = true
	}
	if !fs.Changed("log-output") && logOutput == "" {
		logOutput = conf.LogOutput
	}
	if !fs.Changed("log-dest") && logDest == "" {
		logDest = conf.LogDest
	}
}

func walkDepth() int {
	if traceDepth > 0 {
		return traceDepth
	}
	if conf != nil && conf.MaxWalkDepth != nil && *conf.MaxWalkDepth > 0 {
		return *conf.MaxWalkDepth
	}
	return defaultWalkDepth
}

func selftraceCmd(cmd *cobra.Command, args []string) error {
	enum, err := shlib.NewEnumerator()
	if err != nil {
		return err
	}
	opts := pancakes.NewOptions()
	if err := opts.AddEntriesFromLoadedImages(enum); err != nil {
		return err
	}
	walker := opts.Build()

	depth := walkDepth()
	frames := 0
	err = regs.WithCurrent(func(current regs.FrameRegisters) error {
		return walker.Walk(current, func(fr regs.FrameRegisters) pancakes.Control {
			fmt.Printf("#%-3d ip=%s sp=%s bp=%s\n", frames, fr.IP(), fr.SP(), fr.BP())
			frames++
			if frames >= depth {
				return pancakes.Break
			}
			return pancakes.Continue
		})
	})
	var noInfo *pancakes.NoUnwindInfoError
	if errors.As(err, &noInfo) {
		// Running out of unwind info is how a complete walk ends.
		return nil
	}
	return err
}

func dumpCmd(cmd *cobra.Command, args []string) error {
	ef, err := elf.Open(args[0])
	if err != nil {
		return err
	}
	defer ef.Close()

	var section []byte
	var sectionAddr uint64
	if sec := ef.Section(".eh_frame"); sec != nil {
		if section, err = sec.Data(); err != nil {
			return err
		}
		sectionAddr = sec.Addr
	} else if sec := ef.Section(".debug_frame"); sec != nil {
		if section, err = sec.Data(); err != nil {
			return err
		}
	} else {
		return fmt.Errorf("%s has no unwind section", args[0])
	}

	ptrSize := 8
	if ef.Class == elf.ELFCLASS32 {
		ptrSize = 4
	}
	entries, err := pancakes.EntriesFromFrameSection(section, ef.ByteOrder, sectionAddr, 0, ptrSize)
	if err != nil {
		return err
	}
	for i := range entries {
		fmt.Printf("%#016x %#016x\n", entries[i].Start(), entries[i].End())
	}
	fmt.Printf("%d entries\n", len(entries))
	return nil
}
