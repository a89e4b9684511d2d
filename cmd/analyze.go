package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/richinsley/comfyrunner/client"
	"github.com/richinsley/comfyrunner/graphapi"
	"github.com/richinsley/comfyrunner/internal/config"
	"github.com/richinsley/comfyrunner/workflows"
	"github.com/spf13/cobra"
)

var checkNodes bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <workflow.json|image.png>",
	Short: "Classify a workflow and report the inputs it needs",
	Long: `Classify an API-format workflow and report the inputs it needs and the
media it produces.  A PNG written by ComfyUI is read from its embedded
"prompt" metadata.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := loadWorkflow(args[0])
		if err != nil {
			return err
		}

		report := struct {
			workflows.WorkflowInfo
			MissingNodeTypes []string `json:"missing_node_types,omitempty"`
			OutputNodes      []string `json:"output_nodes,omitempty"`
		}{WorkflowInfo: workflows.Describe(w)}

		if checkNodes {
			c, err := client.NewComfyClientWithTimeout(config.Instance.Comfy.URL, nil, config.Instance.Comfy.RequestTimeout)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			objects, err := c.GetObjectInfos(ctx)
			if err != nil {
				return fmt.Errorf("fetch node catalog: %w", err)
			}
			report.MissingNodeTypes = objects.MissingClassTypes(w)
			report.OutputNodes = objects.OutputNodeIDs(w)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func loadWorkflow(path string) (graphapi.Workflow, error) {
	if strings.EqualFold(filepath.Ext(path), ".png") {
		return client.NewWorkflowFromPNGFile(path)
	}
	return graphapi.NewWorkflowFromJsonFile(path)
}

func init() {
	analyzeCmd.Flags().BoolVar(&checkNodes, "check-nodes", false, "ask ComfyUI which node types are missing")
}
