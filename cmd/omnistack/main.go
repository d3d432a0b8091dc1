// Command omnistack boots one packet-pipeline stack from its on-disk
// Graph/Stack configuration: cobra root command, flag-bound settings, a
// single blocking Run call.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aubrey-Liu/omnistack/internal/engine"

	_ "github.com/Aubrey-Liu/omnistack/internal/driver/afxdp"
	_ "github.com/Aubrey-Liu/omnistack/internal/driver/soft"
	_ "github.com/Aubrey-Liu/omnistack/internal/driver/xdp"
	_ "github.com/Aubrey-Liu/omnistack/internal/modules"
)

func main() {
	var (
		stackName    string
		configDir    string
		settingsPath string
		loggingLevel string
	)

	root := &cobra.Command{
		Use:   "omnistack",
		Short: "Run a user-space, kernel-bypass packet pipeline stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stackName == "" {
				return fmt.Errorf("--stack is required")
			}
			if loggingLevel != "" {
				os.Setenv("OMNISTACK_LOGGING_LEVEL", loggingLevel)
			}

			eng, err := engine.New(stackName, configDir, settingsPath)
			if err != nil {
				return err
			}
			return eng.Run(context.Background())
		},
	}

	root.Flags().StringVar(&stackName, "stack", "", "name of the stack to run (required)")
	root.Flags().StringVar(&configDir, "config", "/etc/omnistack/conf.d", "directory of Graph/Stack JSON config files")
	root.Flags().StringVar(&settingsPath, "settings", "", "path to an ambient settings file (optional)")
	root.Flags().StringVar(&loggingLevel, "logging-level", "", "override the configured logging level")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
