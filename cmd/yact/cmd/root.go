package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/isdmx/yact/config"
	"github.com/isdmx/yact/sandbox"
)

// flagKeys maps persistent flags onto configuration keys
var flagKeys = map[string]string{
	"backend":      "sandbox.backend",
	"image":        "sandbox.image",
	"workdir":      "sandbox.workdir",
	"host-workdir": "sandbox.host_workdir",
	"log-level":    "logging.level",
}

// newBackend is swapped out by tests
var newBackend = sandbox.NewBackend

type rootOptions struct {
	configFile string
}

// NewRootCmd builds the yact command tree
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "yact",
		Short: "yact - disposable container sandboxes with a persistent working directory",
		Long: `yact runs shell commands inside a throwaway container. The container's working
directory is bound to a host directory, so files written there outlive the container.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(cmd.Root())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "config file (default ./config.yaml or ./config/config.yaml)")
	pf.String("backend", "", "container engine: docker or podman")
	pf.String("image", "", "sandbox image")
	pf.String("workdir", "", "working directory inside the sandbox")
	pf.String("host-workdir", "", "host directory bound to the working directory (default: current directory)")
	pf.String("log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(newExecCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	root.AddCommand(newVersionCmd())

	return root
}

// Execute runs the command tree. This is called by main.main().
func Execute() error {
	return NewRootCmd().Execute()
}

// bindFlags binds the persistent flags into viper. Flags left unset do not
// override the config file or the environment.
func bindFlags(root *cobra.Command) error {
	for name, key := range flagKeys {
		if err := viper.BindPFlag(key, root.PersistentFlags().Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	if opts.configFile != "" {
		viper.SetConfigFile(opts.configFile)
	}

	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
