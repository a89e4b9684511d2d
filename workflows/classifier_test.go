package workflows

import (
	"strconv"
	"testing"

	"github.com/richinsley/comfyrunner/graphapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const t2iWorkflow = `{
  "3": {
    "inputs": {"seed": 156680208700286, "steps": 20, "cfg": 8, "sampler_name": "euler", "model": ["4", 0], "positive": ["6", 0], "negative": ["7", 0], "latent_image": ["5", 0]},
    "class_type": "KSampler",
    "_meta": {"title": "KSampler"}
  },
  "4": {"inputs": {"ckpt_name": "v1-5-pruned-emaonly.safetensors"}, "class_type": "CheckpointLoaderSimple"},
  "5": {"inputs": {"width": 512, "height": 512, "batch_size": 1}, "class_type": "EmptyLatentImage"},
  "6": {"inputs": {"text": "old", "clip": ["4", 1]}, "class_type": "CLIPTextEncode", "_meta": {"title": "Positive"}},
  "7": {"inputs": {"text": "blurry", "clip": ["4", 1]}, "class_type": "CLIPTextEncode", "_meta": {"title": "Negative"}},
  "8": {"inputs": {"samples": ["3", 0], "vae": ["4", 2]}, "class_type": "VAEDecode"},
  "9": {"inputs": {"filename_prefix": "ComfyUI", "images": ["8", 0]}, "class_type": "SaveImage"}
}`

func mustWorkflow(t *testing.T, data string) graphapi.Workflow {
	t.Helper()
	w, err := graphapi.NewWorkflowFromJsonString(data)
	require.NoError(t, err)
	return w
}

// nodesOfType builds a workflow with one literal-free node per class type, ids "1".."n"
func nodesOfType(classTypes ...string) graphapi.Workflow {
	w := make(graphapi.Workflow, len(classTypes))
	for i, ct := range classTypes {
		w[strconv.Itoa(i+1)] = &graphapi.PromptNode{ClassType: ct, Inputs: map[string]interface{}{}}
	}
	return w
}

func TestNodesOfTypeIDs(t *testing.T) {
	types := make([]string, 12)
	for i := range types {
		types[i] = "CLIPTextEncode"
	}
	types[10] = "KSampler"
	types[11] = "SaveImage"
	w := nodesOfType(types...)
	require.Len(t, w, 12)
	assert.Equal(t, "KSampler", w.GetNodeById("11").ClassType)
	assert.Equal(t, "SaveImage", w.GetNodeById("12").ClassType)
	assert.Equal(t, KindTextToImage, Classify(w))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		types []string
		want  WorkflowKind
	}{
		{"wan model without video source", []string{"WanImageToVideo", "VHS_VideoCombine"}, KindTextToVideo},
		{"wan model alone", []string{"WanImageToVideo"}, KindTextToVideo},
		{"text to video", []string{"CLIPTextEncode", "SaveVideo"}, KindTextToVideo},
		{"text encode with video source is not t2v", []string{"CLIPTextEncode", "VHS_LoadVideo", "VHS_VideoCombine"}, KindUnknown},
		{"video upscale", []string{"VHS_LoadVideo", "ImageUpscaleWithModel", "VHS_VideoCombine"}, KindVideoUpscale},
		{"upscale wins over wan", []string{"VHS_LoadVideo", "ImageScale", "SaveVideo", "WanImageToVideo"}, KindVideoUpscale},
		{"text to image", []string{"CLIPTextEncode", "KSampler", "SaveImage"}, KindTextToImage},
		{"image to image", []string{"LoadImage", "SaveImage"}, KindImageToImage},
		{"image to image with prompt", []string{"CLIPTextEncode", "LoadImage", "KSampler", "SaveImage"}, KindImageToImage},
		{"image source into video sink", []string{"LoadImage", "PreviewImage", "VHS_VideoCombine"}, KindUnknown},
		{"no sink", []string{"CLIPTextEncode", "KSampler"}, KindUnknown},
		{"unrecognised types", []string{"FooNode", "BarNode"}, KindUnknown},
		{"empty", nil, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(nodesOfType(tt.types...)))
		})
	}
}

func TestClassifyIgnoresEdges(t *testing.T) {
	w := mustWorkflow(t, t2iWorkflow)
	assert.Equal(t, KindTextToImage, Classify(w))

	// cutting every link does not change the verdict
	for _, n := range w {
		for k, v := range n.Inputs {
			if !graphapi.IsLiteral(v) {
				delete(n.Inputs, k)
			}
		}
	}
	assert.Equal(t, KindTextToImage, Classify(w))
}

func TestClassifyDegenerateGraphs(t *testing.T) {
	assert.Equal(t, KindUnknown, Classify(nil))
	assert.Equal(t, KindUnknown, Classify(graphapi.Workflow{}))
	assert.Equal(t, KindUnknown, Classify(graphapi.Workflow{"1": nil, "2": {}}))
}

func TestClassifyRecoversFromPanic(t *testing.T) {
	// an empty group simply never matches
	c := &Classifier{Groups: DefaultNodeGroups()}
	c.Groups.TextEncode = nil
	assert.Equal(t, KindImageToImage, c.Classify(nodesOfType("LoadImage", "SaveImage")))

	var nilClassifier *Classifier
	assert.Equal(t, KindUnknown, nilClassifier.Classify(nodesOfType("LoadImage", "SaveImage")))
}

func TestCustomGroups(t *testing.T) {
	groups := DefaultNodeGroups().Clone()
	groups.ImageSink.Add("MyFancySaver")
	c := NewClassifier(groups)

	w := nodesOfType("CLIPTextEncode", "MyFancySaver")
	assert.Equal(t, KindTextToImage, c.Classify(w))
	assert.Equal(t, KindUnknown, Classify(w), "extending a clone must not affect the built-in table")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		kind    WorkflowKind
		in      Inputs
		missing string
	}{
		{KindTextToVideo, Inputs{}, "prompt"},
		{KindTextToVideo, Inputs{HasPrompt: true}, ""},
		{KindTextToImage, Inputs{HasImage: true}, "prompt"},
		{KindTextToImage, Inputs{HasPrompt: true}, ""},
		{KindImageToImage, Inputs{HasPrompt: true}, "image"},
		{KindImageToImage, Inputs{HasImage: true}, ""},
		{KindVideoUpscale, Inputs{HasPrompt: true, HasImage: true}, "video"},
		{KindVideoUpscale, Inputs{HasVideo: true}, ""},
		{KindUnknown, Inputs{}, ""},
	}
	for _, tt := range tests {
		err := Validate(tt.kind, tt.in)
		if tt.missing == "" {
			assert.NoError(t, err, "%s %+v", tt.kind, tt.in)
			continue
		}
		require.Error(t, err, "%s %+v", tt.kind, tt.in)
		assert.ErrorIs(t, err, ErrValidation)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, tt.kind, verr.Kind)
		assert.Equal(t, tt.missing, verr.Missing)
	}
}

func TestWanVideoRequiresPrompt(t *testing.T) {
	kind := Classify(nodesOfType("WanImageToVideo", "VHS_VideoCombine"))
	require.Equal(t, KindTextToVideo, kind)

	err := Validate(kind, Inputs{})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "text prompt")
}

func TestLoadImageSaveImageRequiresImage(t *testing.T) {
	w := mustWorkflow(t, `{
		"5": {"inputs": {"image": "example.png"}, "class_type": "LoadImage"},
		"9": {"inputs": {"images": ["5", 0]}, "class_type": "SaveImage"}
	}`)
	kind := Classify(w)
	require.Equal(t, KindImageToImage, kind)

	err := Validate(kind, Inputs{HasPrompt: true})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDescribe(t *testing.T) {
	w := nodesOfType("VHS_LoadVideo", "ImageUpscaleWithModel", "VHS_VideoCombine")
	info := Describe(w)

	assert.Equal(t, KindVideoUpscale, info.WorkflowType)
	assert.Equal(t, OutputVideo, info.ExpectedOutput)
	assert.True(t, info.RequiresVideo)
	assert.False(t, info.RequiresImage)
	assert.False(t, info.SupportsPrompt)
	assert.Equal(t, 3, info.NodeCount)
	assert.Equal(t, []string{"ImageUpscaleWithModel", "VHS_LoadVideo", "VHS_VideoCombine"}, info.NodeTypes)
}

func TestDescribeDoesNotMutate(t *testing.T) {
	w := mustWorkflow(t, t2iWorkflow)
	before := w.Clone()

	info := Describe(w)
	assert.Equal(t, KindTextToImage, info.WorkflowType)
	assert.Equal(t, OutputImage, info.ExpectedOutput)
	assert.True(t, info.SupportsPrompt)
	assert.Equal(t, before, w)
}

func TestExpectedOutput(t *testing.T) {
	assert.Equal(t, OutputVideo, ExpectedOutput(KindTextToVideo))
	assert.Equal(t, OutputVideo, ExpectedOutput(KindVideoUpscale))
	assert.Equal(t, OutputImage, ExpectedOutput(KindTextToImage))
	assert.Equal(t, OutputImage, ExpectedOutput(KindImageToImage))
	assert.Equal(t, OutputUnknown, ExpectedOutput(KindUnknown))
}
