package main

import (
	"fmt"
	"os"

	// crypto libraries included for go-digest
	_ "crypto/sha256"
	_ "crypto/sha512"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/regmirror/regmirror"
	"github.com/regmirror/regmirror/config"
)

const usageDesc = `Pull-through mirror for OCI registries with streamable
image substitution.`

// set by the build process with ldflags
var (
	version = "unknown"
	ref     = "unknown"
)

type rootCmd struct {
	confFile  string
	verbosity string
	logopts   []string
	log       *logrus.Logger
}

func NewRootCmd() *cobra.Command {
	rootOpts := rootCmd{}
	rootOpts.log = &logrus.Logger{
		Out:       os.Stderr,
		Formatter: new(logrus.TextFormatter),
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}
	var rootTopCmd = &cobra.Command{
		Use:           "regmirror <cmd>",
		Short:         "Pull-through mirror for OCI registries",
		Long:          usageDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	var serveCmd = &cobra.Command{
		Use:     "serve",
		Short:   "run the mirror",
		Long:    `Serve the distribution API according to the configuration.`,
		Args:    cobra.RangeArgs(0, 0),
		PreRunE: rootOpts.requireConf,
		RunE:    rootOpts.runServe,
	}
	var configCmd = &cobra.Command{
		Use:     "config",
		Short:   "Show the config",
		Long:    `Show the config after defaults and validation.`,
		Args:    cobra.RangeArgs(0, 0),
		PreRunE: rootOpts.requireConf,
		RunE:    rootOpts.runConfig,
	}
	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Show the version",
		Long:  `Show the version`,
		Args:  cobra.RangeArgs(0, 0),
		RunE:  rootOpts.runVersion,
	}

	rootTopCmd.PersistentFlags().StringVarP(&rootOpts.confFile, "config", "c", "", "Config file")
	rootTopCmd.PersistentFlags().StringVarP(&rootOpts.verbosity, "verbosity", "v", logrus.InfoLevel.String(), "Log level (debug, info, warn, error, fatal, panic)")
	rootTopCmd.PersistentFlags().StringArrayVar(&rootOpts.logopts, "logopt", []string{}, "Log options")

	_ = rootTopCmd.MarkPersistentFlagFilename("config")

	rootTopCmd.AddCommand(serveCmd)
	rootTopCmd.AddCommand(configCmd)
	rootTopCmd.AddCommand(versionCmd)

	rootTopCmd.PersistentPreRunE = rootOpts.rootPreRun
	return rootTopCmd
}

func (rootOpts *rootCmd) rootPreRun(cmd *cobra.Command, args []string) error {
	lvl, err := logrus.ParseLevel(rootOpts.verbosity)
	if err != nil {
		return err
	}
	rootOpts.log.SetLevel(lvl)
	rootOpts.log.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	for _, opt := range rootOpts.logopts {
		if opt == "json" {
			rootOpts.log.Formatter = new(logrus.JSONFormatter)
		}
	}
	return nil
}

// requireConf gates the commands that cannot run without a config file. The
// config flag lives on the root command, so cobra's own required-flag marking
// cannot express this per subcommand.
func (rootOpts *rootCmd) requireConf(cmd *cobra.Command, args []string) error {
	if rootOpts.confFile == "" {
		return fmt.Errorf("config file is required, use --config")
	}
	return nil
}

func (rootOpts *rootCmd) loadConf() (*config.Config, error) {
	return config.Load(rootOpts.confFile)
}

func (rootOpts *rootCmd) runServe(cmd *cobra.Command, args []string) error {
	conf, err := rootOpts.loadConf()
	if err != nil {
		return err
	}
	m, err := regmirror.New(
		regmirror.WithConfig(conf),
		regmirror.WithLog(rootOpts.log),
	)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		return m.Serve(ctx)
	})
	return g.Wait()
}

func (rootOpts *rootCmd) runConfig(cmd *cobra.Command, args []string) error {
	conf, err := rootOpts.loadConf()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "listen: %s\nnamespace: %s\nteleport format: %s\n", conf.Listen, conf.Namespace, conf.Teleport.Format)
	return nil
}

func (rootOpts *rootCmd) runVersion(cmd *cobra.Command, args []string) error {
	fmt.Fprintf(cmd.OutOrStdout(), "version: %s\nref: %s\n", version, ref)
	return nil
}
