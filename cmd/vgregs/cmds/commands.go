package cmds

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vgstub/vgregs/pkg/config"
	"github.com/vgstub/vgregs/pkg/logflags"
	"github.com/vgstub/vgregs/pkg/proc/features"
	"github.com/vgstub/vgregs/pkg/proc/guest"
	"github.com/vgstub/vgregs/pkg/proc/target"
	"github.com/vgstub/vgregs/pkg/terminal"
	"github.com/vgstub/vgregs/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// configPath is the path of the configuration file, empty for the default one.
	configPath string
	// osFamily overrides the guest OS family of the configuration.
	osFamily string
	// shadow exposes the shadow register views.
	shadow bool
	// avx and avx512 force the vector tiers, when set on the command line.
	avx    bool
	avx512 bool

	// stateFile is the snapshot file holding the guest threads.
	stateFile string
	// threadID selects the thread printed by regs, the first one if zero.
	threadID int
	// initFile is the path to initialization file.
	initFile string

	// descriptorXML prints a generated target description.
	descriptorXML bool
	// verifyDir is a directory of target description files to verify.
	verifyDir string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const vgregsCommandLongDesc = `vgregs is the register side of a gdbserver for an amd64 guest.

It maps the register numbers of the gdb remote protocol onto the guest
state of each thread, in up to three views: the real register values and
two shadow sets describing them. The number of registers that exist
depends on the AVX and AVX-512 support of the host.`

// New returns an initialized command tree.
func New() *cobra.Command {
	// Main vgregs root command.
	rootCommand = &cobra.Command{
		Use:          "vgregs",
		Short:        "vgregs exposes amd64 guest registers to gdb.",
		Long:         vgregsCommandLongDesc,
		SilenceUsage: true,

		PersistentPreRunE: setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) { logflags.Close() },
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'vgregs help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'vgregs help log').")
	rootCommand.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file, defaults to $HOME/.vgregs/config.yml.")
	rootCommand.PersistentFlags().StringVar(&osFamily, "os", "", `Guest OS family, "linux" or "other", defaults to the host's.`)
	rootCommand.PersistentFlags().BoolVarP(&shadow, "shadow", "", false, "Expose the two shadow register views.")
	rootCommand.PersistentFlags().BoolVarP(&avx, "avx", "", false, "Force the availability of the AVX registers.")
	rootCommand.PersistentFlags().BoolVarP(&avx512, "avx512", "", false, "Force the availability of the AVX-512 registers.")

	catalogCommand := &cobra.Command{
		Use:   "catalog",
		Short: "Print the register catalog of the guest.",
		Long: `Print every register of the guest OS family in protocol order.

Registers that are not live on this host, because the host lacks AVX or
AVX-512, are marked as such.`,
		Args: cobra.NoArgs,
		RunE: catalogCmd,
	}
	rootCommand.AddCommand(catalogCommand)

	featuresCommand := &cobra.Command{
		Use:   "features",
		Short: "Print the register configuration of this host.",
		Args:  cobra.NoArgs,
		RunE:  featuresCmd,
	}
	rootCommand.AddCommand(featuresCommand)

	descriptorCommand := &cobra.Command{
		Use:   "descriptor",
		Short: "Print or verify the target description of this host.",
		Long: `Print the name of the target description file gdb should be sent.

With --xml a single document description of the exposed registers is
printed instead. With --verify the named description is read from the
given directory, following its includes, and compared against the
registers the transfer engine exposes.`,
		Args: cobra.NoArgs,
		RunE: descriptorCmd,
	}
	descriptorCommand.Flags().BoolVar(&descriptorXML, "xml", false, "Print a generated target description.")
	descriptorCommand.Flags().StringVar(&verifyDir, "verify", "", "Directory holding the target description files to verify.")
	rootCommand.AddCommand(descriptorCommand)

	regsCommand := &cobra.Command{
		Use:   "regs [view]",
		Short: "Print the registers of a guest thread.",
		Long: `Print the registers of a guest thread loaded from a state file.

The view is one of real, shadow1 or shadow2.`,
		Args: cobra.MaximumNArgs(1),
		RunE: regsCmd,
	}
	regsCommand.Flags().StringVar(&stateFile, "state", "", "Snapshot file describing the guest threads.")
	regsCommand.Flags().IntVar(&threadID, "thread", 0, "Thread to print.")
	rootCommand.AddCommand(regsCommand)

	shellCommand := &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive register shell.",
		Args:  cobra.NoArgs,
		RunE:  shellCmd,
	}
	shellCommand.Flags().StringVar(&stateFile, "state", "", "Snapshot file describing the guest threads.")
	shellCommand.Flags().StringVar(&initFile, "init", "", "Init file, executed by the shell.")
	rootCommand.AddCommand(shellCommand)

	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vgregs\n%s\n", version.VgregsVersion)
			if log {
				fmt.Fprintln(cmd.OutOrStdout(), version.BuildInfo())
			}
		},
	}
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:

	transfer	Log every register transferred by the engine
	features	Log the detected vector tiers
	target		Log target initialization (default)
	regcache	Log register cache fetches and invalidations
	terminal	Log failed shell commands

Additionally --log-dest can be used to specify where the logs should be
written. If the argument is a number it will be interpreted as a file
descriptor, otherwise as a file path.`,
	})

	return rootCommand
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	conf, err = config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if log && logOutput == "" {
		logOutput = conf.LogOutput
	}
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		return err
	}

	applyFlags(cmd.Flags(), conf)
	return nil
}

// applyFlags overrides the settings of conf that were given on the
// command line.
func applyFlags(flags *pflag.FlagSet, conf *config.Config) {
	if flags.Changed("os") {
		conf.OS = osFamily
	}
	if flags.Changed("shadow") {
		conf.ShadowRegisters = shadow
	}
	if flags.Changed("avx") {
		conf.AVX = &avx
	}
	if flags.Changed("avx512") {
		conf.AVX512 = &avx512
	}
}

// newTarget builds the target described by the configuration over the
// threads of ts.
func newTarget(ts *guest.Threads) (*target.Target, error) {
	family, err := conf.OSFamily()
	if err != nil {
		return nil, err
	}
	return target.New(target.Config{
		OS:        family,
		Shadow:    conf.ShadowRegisters,
		Detector:  conf.Detector(features.Host),
		States:    ts,
		CacheSize: conf.CacheSize(),
	})
}

// loadThreads reads the state file, or returns a single fresh thread when
// none was given.
func loadThreads() (*guest.Threads, error) {
	if stateFile == "" {
		ts := guest.NewThreads()
		ts.Add(1)
		return ts, nil
	}
	fh, err := os.Open(stateFile)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	ts, err := guest.LoadSnapshot(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", stateFile, err)
	}
	if len(ts.IDs()) == 0 {
		return nil, fmt.Errorf("%s: no threads", stateFile)
	}
	return ts, nil
}

func catalogCmd(cmd *cobra.Command, args []string) error {
	tgt, err := newTarget(guest.NewThreads())
	if err != nil {
		return err
	}
	cfg := tgt.Features
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 1, ' ', 0)
	fmt.Fprintf(w, "#\tname\toffset\tbitsize\t\n")
	for n := 0; n < cfg.Catalog.Len(); n++ {
		reg := cfg.Catalog.At(n)
		live := ""
		if n >= cfg.Live {
			live = "not live"
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\n", n, reg.Name, reg.Offset, reg.Bitsize, live)
	}
	return w.Flush()
}

func featuresCmd(cmd *cobra.Command, args []string) error {
	tgt, err := newTarget(guest.NewThreads())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	cfg := tgt.Features
	fmt.Fprintf(out, "os:          %s\n", tgt.OS)
	fmt.Fprintf(out, "vector:      %s\n", cfg.Tiers)
	fmt.Fprintf(out, "live:        %d of %d\n", cfg.Live, cfg.Catalog.Len())
	fmt.Fprintf(out, "views:       %d\n", cfg.Views)
	fmt.Fprintf(out, "registers:   %d\n", tgt.NumRegs())
	fmt.Fprintf(out, "sp regno:    %d\n", tgt.StackPointerRegno())
	fmt.Fprintf(out, "expedited:   %s\n", strings.Join(tgt.ExpeditedRegisters(), " "))
	return nil
}

var errNoDescriptor = errors.New("no target description for this configuration")

func descriptorCmd(cmd *cobra.Command, args []string) error {
	tgt, err := newTarget(guest.NewThreads())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if descriptorXML {
		return target.WriteDescriptor(out, tgt.Features)
	}
	name, ok := tgt.Descriptor()
	if !ok {
		return errNoDescriptor
	}
	if verifyDir == "" {
		fmt.Fprintln(out, name)
		return nil
	}
	regs, err := target.ReadDescriptor(target.DirReader(verifyDir), name)
	if err != nil {
		return err
	}
	if err := target.VerifyDescriptor(regs, tgt.Features); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	fmt.Fprintf(out, "%s: %d registers ok\n", name, len(regs))
	return nil
}

func regsCmd(cmd *cobra.Command, args []string) error {
	ts, err := loadThreads()
	if err != nil {
		return err
	}
	tgt, err := newTarget(ts)
	if err != nil {
		return err
	}
	term := terminal.NewBatch(tgt, ts, conf, cmd.OutOrStdout())
	if threadID != 0 {
		if err := term.SetThread(guest.ThreadID(threadID)); err != nil {
			return err
		}
	}
	return term.Exec("regs " + strings.Join(args, " "))
}

func shellCmd(cmd *cobra.Command, args []string) error {
	ts, err := loadThreads()
	if err != nil {
		return err
	}
	tgt, err := newTarget(ts)
	if err != nil {
		return err
	}
	term := terminal.New(tgt, ts, conf)
	term.SetConfigFile(configPath)
	if initFile != "" {
		if err := term.Exec("source " + initFile); err != nil {
			if _, ok := err.(terminal.ExitRequestError); ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %v\n", err)
		}
	}
	status, err := term.Run()
	if err != nil {
		return err
	}
	if status != 0 {
		return fmt.Errorf("shell exited with status %d", status)
	}
	return nil
}
