package cmd

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/richinsley/comfyrunner/client"
	"github.com/richinsley/comfyrunner/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	inputFile  string
	outputFile string
	noProgress bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single job request and print the response",
	Example: `  comfyrunner run --input request.json
  cat request.json | comfyrunner run --input - --output response.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = os.Stdin
		if inputFile != "-" {
			f, err := os.Open(inputFile)
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		req, err := worker.ReadRequest(r)
		if err != nil {
			return err
		}

		c, h, err := newWorker(queueCallbacks())
		if err != nil {
			return err
		}
		if !noProgress {
			startWatcher(cmd.Context(), c)
			h.Handlers = progressHandlers()
		}

		resp := h.Handle(cmd.Context(), req)

		var w io.Writer = cmd.OutOrStdout()
		if outputFile != "" {
			f, err := os.Create(outputFile)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
		return resp.Err()
	},
}

// progressHandlers draws one progress bar per sampling node and reports the files
// output nodes write
func progressHandlers() *client.MessageHandlers {
	var bar *progressbar.ProgressBar
	var currentNodeTitle string

	return client.DefaultMessageHandlers().
		WithExecutingHandler(func(msg *client.PromptMessageExecuting) {
			bar = nil // Reset bar for new node
			currentNodeTitle = msg.Title
			slog.Debug("Executing node", "node_id", msg.NodeID, "title", msg.Title)
		}).
		WithProgressHandler(func(msg *client.PromptMessageProgress) {
			if bar == nil {
				bar = progressbar.Default(int64(msg.Max), currentNodeTitle)
			}
			if err := bar.Set(msg.Value); err != nil {
				slog.Debug("Progress bar update failed", "error", err)
			}
		}).
		WithDataHandler(func(msg *client.PromptMessageData) {
			for kind, outputs := range msg.Data {
				for _, out := range outputs {
					slog.Info("Output written", "node_id", msg.NodeID, "kind", kind, "filename", out.Filename, "subfolder", out.Subfolder)
				}
			}
		})
}

func init() {
	runCmd.Flags().StringVarP(&inputFile, "input", "i", "", `request JSON file, "-" for stdin`)
	runCmd.Flags().StringVarP(&outputFile, "output", "o", "", "write the response here instead of stdout")
	runCmd.Flags().BoolVar(&noProgress, "no-progress", false, "do not follow ComfyUI progress over the websocket")
	runCmd.MarkFlagRequired("input")
}
