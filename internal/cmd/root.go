package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/niels/staticserve/pkg/config"
	"github.com/niels/staticserve/pkg/logging"
	"github.com/niels/staticserve/pkg/output"
	"github.com/niels/staticserve/pkg/site"
	"github.com/niels/staticserve/pkg/version"
	"github.com/spf13/cobra"
)

// options holds the flag values of one command tree
type options struct {
	configPath  string
	envFile     string
	host        string
	port        int
	root        string
	index       string
	admin       bool
	adminPort   int
	debug       bool
	showVersion bool
	noColor     bool

	cfg *config.Config
}

// NewRootCmd creates the root command for staticserve
func NewRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   version.AppName,
		Short: version.Description,
		Long: fmt.Sprintf(`%s - %s

Serves index.html at / and every other file under the static directory.
`, version.AppName, version.Description),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), version.GetVersionInfo())
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cmd, opts)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	flags.StringVar(&opts.envFile, "env-file", ".env", "Path to a dotenv file read before the configuration")
	flags.StringVar(&opts.host, "host", "", "Host to bind (overrides config)")
	flags.IntVarP(&opts.port, "port", "p", 0, "Port to listen on (overrides config and PORT)")
	flags.StringVarP(&opts.root, "root", "r", "", "Directory with the static files (overrides config)")
	flags.StringVar(&opts.index, "index", "", "Index document served at / (overrides config)")
	flags.BoolVar(&opts.admin, "admin", false, "Enable the metrics and health listener")
	flags.IntVar(&opts.adminPort, "admin-port", 0, "Port of the metrics and health listener")
	flags.BoolVarP(&opts.debug, "debug", "d", false, "Enable debug mode")
	flags.BoolVarP(&opts.showVersion, "version", "v", false, "Show version information")
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(newConfigCmd(opts))
	return rootCmd
}

// load builds the effective configuration: defaults, then the config file,
// then the environment, then flags that were set explicitly.
func (o *options) load(cmd *cobra.Command) error {
	if err := config.LoadEnvFile(o.envFile); err != nil {
		return err
	}

	cfg := config.LoadDefault()
	if o.configPath != "" {
		cfg = config.LoadOrDefault(o.configPath)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host = o.host
	}
	if flags.Changed("port") {
		cfg.Server.Port = o.port
	}
	if flags.Changed("root") {
		cfg.Server.StaticDir = o.root
	}
	if flags.Changed("index") {
		cfg.Server.IndexFile = o.index
	}
	if flags.Changed("admin") {
		cfg.Admin.Enabled = o.admin
	}
	if flags.Changed("admin-port") {
		cfg.Admin.Port = o.adminPort
	}

	logging.InitGlobalLogger(o.debug, cfg)
	if o.debug {
		logging.DebugWith("Effective configuration", map[string]interface{}{
			"config": o.configPath,
			"addr":   cfg.Server.Addr(),
			"root":   cfg.Server.StaticDir,
			"index":  cfg.Server.IndexPath(),
			"admin":  cfg.Admin.Enabled,
		})
	}

	o.cfg = cfg
	return nil
}

func serve(ctx context.Context, cmd *cobra.Command, opts *options) error {
	s, err := site.Build(*opts.cfg, logging.GetLogger())
	if err != nil {
		logging.ErrorWith("Invalid configuration", map[string]interface{}{
			"error": err,
		})
		return err
	}

	if err := s.Start(); err != nil {
		logging.ErrorWith("Failed to start", map[string]interface{}{
			"error": err,
		})
		return err
	}

	formatter := output.NewTerminalFormatter(!opts.noColor && !color.NoColor)
	fmt.Fprint(cmd.OutOrStdout(), formatter.FormatStartup(output.StartupInfo{
		Version:   version.Version,
		Addr:      s.Addr(),
		AdminAddr: s.AdminAddr(),
		StaticDir: opts.cfg.Server.StaticDir,
		Rules:     s.Rules(),
	}))
	logging.InfoWith("Server listening", map[string]interface{}{
		"addr": s.Addr(),
		"root": opts.cfg.Server.StaticDir,
	})

	if err := s.Wait(ctx); err != nil {
		return err
	}
	logging.Info("Server stopped")
	return nil
}

func newConfigCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.cfg.Validate(); err != nil {
				return err
			}
			data, err := opts.cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
