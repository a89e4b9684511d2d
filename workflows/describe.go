package workflows

import "github.com/richinsley/comfyrunner/graphapi"

// WorkflowInfo summarizes a workflow without modifying it
type WorkflowInfo struct {
	WorkflowType   WorkflowKind `json:"workflow_type"`
	NodeCount      int          `json:"node_count"`
	NodeTypes      []string     `json:"node_types"`
	ExpectedOutput OutputKind   `json:"expected_output"`
	SupportsPrompt bool         `json:"supports_prompt"`
	RequiresImage  bool         `json:"requires_image"`
	RequiresVideo  bool         `json:"requires_video"`
}

// Describe classifies w with the built-in node groups and reports what it expects and produces
func Describe(w graphapi.Workflow) WorkflowInfo {
	return defaultClassifier.Describe(w)
}

func (c *Classifier) Describe(w graphapi.Workflow) WorkflowInfo {
	kind := c.Classify(w)
	return WorkflowInfo{
		WorkflowType:   kind,
		NodeCount:      w.NodeCount(),
		NodeTypes:      w.ClassTypeList(),
		ExpectedOutput: ExpectedOutput(kind),
		SupportsPrompt: AcceptsPrompt(kind),
		RequiresImage:  RequiresImage(kind),
		RequiresVideo:  RequiresVideo(kind),
	}
}
