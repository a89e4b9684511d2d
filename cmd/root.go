package cmd

import (
	"github.com/richinsley/comfyrunner/internal/config"
	"github.com/richinsley/comfyrunner/internal/logger"
	"github.com/spf13/cobra"
)

var cfgFile string

// rootCmd represents the base CLI command
var rootCmd = &cobra.Command{
	Use:   "comfyrunner",
	Short: "Run arbitrary ComfyUI workflows from JSON job requests",
	Long: `comfyrunner accepts a job request (an API-format ComfyUI workflow or a
preset name, a prompt, an optional image or video and generation options),
works out what kind of job the workflow performs, rewrites its inputs to
match the request, runs it on ComfyUI and returns the produced media.

It can serve requests over HTTP or run a single request from a file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(cfgFile); err != nil {
			return err
		}
		return logger.InitLogger(logger.LoggerConfig{
			Debug:     config.Instance.Debug,
			LogFormat: config.Instance.LogFormat,
			LogFile:   config.Instance.LogFile,
		})
	},
}

// Execute runs the root command
func Execute() error {
	defer logger.Sync()
	return rootCmd.Execute()
}

func init() {
	// Config file flag
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is comfyrunner.yaml in the standard locations)")

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("log-format", "human", "Log format: json or human")
	rootCmd.PersistentFlags().String("comfy-url", "http://127.0.0.1:8188", "ComfyUI base URL")

	// Bind flags to viper settings
	v := config.Viper()
	v.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	v.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	v.BindPFlag("comfy.url", rootCmd.PersistentFlags().Lookup("comfy-url"))

	rootCmd.AddCommand(serveCmd, runCmd, analyzeCmd, presetsCmd, versionCmd)
}
