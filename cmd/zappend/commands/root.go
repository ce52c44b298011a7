// Package commands implements the zappend CLI commands.
package commands

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bcdev/zappend/internal/logger"
	"github.com/bcdev/zappend/pkg/config"
	"github.com/bcdev/zappend/pkg/cube"
	"github.com/bcdev/zappend/pkg/fsx"
	"github.com/bcdev/zappend/pkg/processor"
	"github.com/bcdev/zappend/pkg/slicing"
	"github.com/bcdev/zappend/pkg/zerrors"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags, shared between the root command and verify.
	configFiles []string
	targetDir   string
	forceNew    bool
	dryRun      bool
	traceback   bool
	helpConfig  string
)

var rootCmd = &cobra.Command{
	Use:   "zappend SLICES...",
	Short: "Append data slices to a Zarr-like cube, transactionally",
	Long: `zappend appends one or more data slices along a cube's append
dimension, incrementally growing it one slice at a time.

Each SLICE argument names a slice to acquire: a path/URI of a JSON slice
document (slice_engine is not consulted), or "-" to read a single JSON
slice document from stdin. Configuration is assembled by merging, in order: built-in
defaults, repeated --config files (later files override earlier, deep
merge at the object level), ZAPPEND_* environment variables, and command
line flags (highest precedence).

Use "zappend [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       Version,
	RunE:          runAppend,
}

// Execute adds all child commands to the root command and runs it. Called
// once by main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil, "config file (repeatable; later files override earlier ones)")
	rootCmd.PersistentFlags().StringVarP(&targetDir, "target", "t", "", "target cube directory or URI (overrides target_dir)")
	rootCmd.PersistentFlags().BoolVar(&traceback, "traceback", false, "print a full error chain instead of a single-line summary")
	rootCmd.Flags().BoolVar(&forceNew, "force-new", false, "delete an existing cube before appending, instead of appending to it")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate slices and report what would happen without writing")
	rootCmd.Flags().StringVar(&helpConfig, "help-config", "", "print the configuration schema and exit (json|md)")

	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(versionCmd)
}

// runAppend is the root command's action: build a facade and config from
// flags, resolve positional slice arguments into handles, and run the
// processor to completion or first failure (spec §4.8).
func runAppend(cmd *cobra.Command, args []string) error {
	if helpConfig != "" {
		return printHelpConfig(cmd, helpConfig)
	}

	cfg, err := loadConfig(args)
	if err != nil {
		return reportErr(err)
	}

	log, err := logger.New(logger.Config(cfg.Logging))
	if err != nil {
		return reportErr(err)
	}
	defer func() { _ = log.Close() }()

	fac, err := buildFacade(cfg)
	if err != nil {
		return reportErr(err)
	}

	handles := make([]slicing.Handle, 0, len(args))
	for _, a := range args {
		if a == "-" {
			ds, err := readStdinSlice(cmd)
			if err != nil {
				return reportErr(err)
			}
			handles = append(handles, slicing.Handle{Dataset: ds})
			continue
		}
		handles = append(handles, slicing.Handle{Path: a})
	}

	reader := slicing.NewJSONReader(fac)
	p := processor.New(fac, reader, processor.WithLogger(log))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := p.Process(ctx, cfg, handles)
	if err != nil {
		cmd.PrintErrf("zappend: failed at slice %d: %v\n", result.FailedAt, result.FailedErr)
		return reportErr(err)
	}

	cmd.Printf("zappend: appended %d slice(s) to %s\n", result.Appended, cfg.TargetDir)
	return nil
}

// loadConfig merges --config files with the flag overrides that take
// highest precedence in the layered model (spec §6): target_dir,
// force_new, dry_run. Positional slice arguments are not part of the
// config; they're handled separately as Handles.
func loadConfig(_ []string) (*config.Config, error) {
	overrides := map[string]any{}
	if targetDir != "" {
		overrides["target_dir"] = targetDir
	}
	if forceNew {
		overrides["force_new"] = true
	}
	if dryRun {
		overrides["dry_run"] = true
	}
	return config.Load(configFiles, overrides)
}

// buildFacade picks the fsx.Facade backend implied by the target's
// scheme. A bare path or "file://" URI uses the local filesystem; "s3://"
// targets the S3 facade, configured from target_storage_options.
func buildFacade(cfg *config.Config) (fsx.Facade, error) {
	return resolveFacade(cfg.TargetDir, cfg.TargetStorageOptions)
}

// reportErr renders err either as a single-line summary or, with
// --traceback, by unwrapping its full cause chain.
func reportErr(err error) error {
	if !traceback {
		return fmt.Errorf("%s", err.Error())
	}
	msg := err.Error()
	for cause := errorsUnwrap(err); cause != nil; cause = errorsUnwrap(cause) {
		msg += "\n  caused by: " + cause.Error()
	}
	return fmt.Errorf("%s", msg)
}

// readStdinSlice reads a single JSON slice document from stdin, for the
// "-" slice argument.
func readStdinSlice(cmd *cobra.Command) (*cube.Dataset, error) {
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return nil, zerrors.IO("read_stdin", "-", err)
	}
	return slicing.ParseJSON("-", data)
}

func errorsUnwrap(err error) error {
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		return u.Unwrap()
	}
	return nil
}
