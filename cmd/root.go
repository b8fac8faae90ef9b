package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var configPath string
	app := &app{}

	rootCmd := &cobra.Command{
		Use:           "drawq",
		Short:         "drawq: dispatch image-generation requests across bot accounts",
		Long:          "drawq admits, queues and runs image-generation requests across a pool of bot accounts, keeping per-account concurrency and quota limits consistent between processes.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			wired, err := wireApp(configPath)
			if err != nil {
				return err
			}
			*app = *wired
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return app.close()
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.drawq/config.toml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(app),
		newAccountCmd(app),
		newPoolCmd(app),
		newTaskCmd(app),
	)

	return rootCmd
}
