package workflows

import "sort"

// NodeGroup is a hand-curated set of ComfyUI class types that play the same role in a graph.
// Class types that appear in no group are ignored by classification.
type NodeGroup map[string]struct{}

func NewNodeGroup(classTypes ...string) NodeGroup {
	g := make(NodeGroup, len(classTypes))
	g.Add(classTypes...)
	return g
}

// Add registers additional class types with the group
func (g NodeGroup) Add(classTypes ...string) {
	for _, t := range classTypes {
		g[t] = struct{}{}
	}
}

func (g NodeGroup) Contains(classType string) bool {
	_, ok := g[classType]
	return ok
}

// Intersects reports whether any of the given class types belongs to the group
func (g NodeGroup) Intersects(classTypes map[string]struct{}) bool {
	// iterate over the smaller of the two sets
	if len(classTypes) < len(g) {
		for t := range classTypes {
			if g.Contains(t) {
				return true
			}
		}
		return false
	}
	for t := range g {
		if _, ok := classTypes[t]; ok {
			return true
		}
	}
	return false
}

// Members returns the group's class types, sorted
func (g NodeGroup) Members() []string {
	retv := make([]string, 0, len(g))
	for t := range g {
		retv = append(retv, t)
	}
	sort.Strings(retv)
	return retv
}

func (g NodeGroup) clone() NodeGroup {
	c := make(NodeGroup, len(g))
	for t := range g {
		c[t] = struct{}{}
	}
	return c
}

// NodeGroups is the table of groups used to classify and mutate workflows
type NodeGroups struct {
	TextEncode  NodeGroup
	ImageSource NodeGroup
	ImageSink   NodeGroup
	VideoSource NodeGroup
	VideoSink   NodeGroup
	Upscale     NodeGroup
	// ModelVideo holds the WAN image-to-video operators.  Any one of them marks a workflow as text-to-video.
	ModelVideo NodeGroup
}

// Clone returns a copy of the table that can be extended without affecting the original
func (g NodeGroups) Clone() NodeGroups {
	return NodeGroups{
		TextEncode:  g.TextEncode.clone(),
		ImageSource: g.ImageSource.clone(),
		ImageSink:   g.ImageSink.clone(),
		VideoSource: g.VideoSource.clone(),
		VideoSink:   g.VideoSink.clone(),
		Upscale:     g.Upscale.clone(),
		ModelVideo:  g.ModelVideo.clone(),
	}
}

// DefaultNodeGroups returns a fresh copy of the built-in group table
func DefaultNodeGroups() NodeGroups {
	return NodeGroups{
		TextEncode: NewNodeGroup(
			"CLIPTextEncode",
			"CLIPTextEncodeSDXL",
			"CLIPTextEncodeSDXLRefiner",
			"CLIPTextEncodeFlux",
			"CLIPTextEncodeHunyuanDiT",
			"TextEncodeHunyuanVideo_ImageToVideo",
			"TextEncodeQwenImageEdit",
			"WanVideoTextEncode",
		),
		ImageSource: NewNodeGroup(
			"LoadImage",
			"LoadImageMask",
			"LoadImageOutput",
			"VHS_LoadImages",
			"VHS_LoadImagePath",
			"ETN_LoadImageBase64",
		),
		ImageSink: NewNodeGroup(
			"SaveImage",
			"PreviewImage",
			"SaveAnimatedWEBP",
			"SaveAnimatedPNG",
			"Image Save",
		),
		VideoSource: NewNodeGroup(
			"VHS_LoadVideo",
			"VHS_LoadVideoPath",
			"VHS_LoadVideoFFmpeg",
			"LoadVideo",
		),
		VideoSink: NewNodeGroup(
			"VHS_VideoCombine",
			"SaveVideo",
			"SaveWEBM",
			"CreateVideo",
		),
		Upscale: NewNodeGroup(
			"ImageUpscaleWithModel",
			"UpscaleModelLoader",
			"ImageScale",
			"ImageScaleBy",
			"LatentUpscale",
			"LatentUpscaleBy",
		),
		ModelVideo: NewNodeGroup(
			"WanImageToVideo",
			"WanFunControlToVideo",
			"WanFirstLastFrameToVideo",
			"WanVaceToVideo",
			"WanVideoSampler",
			"WanVideoImageClipEncode",
		),
	}
}

// input slot names touched by the mutator
var (
	promptInputNames = []string{"text", "text_g", "text_l", "prompt"}
	imageInputNames  = []string{"image"}
	videoInputNames  = []string{"video", "file"}
	seedInputNames   = []string{"seed", "noise_seed"}
)
