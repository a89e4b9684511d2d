// Comfyrunner is a request-adaptation worker that sits in front of a ComfyUI backend.
// It accepts an arbitrary API-format workflow together with a prompt, optional reference
// image or video and generation options, works out what kind of job the workflow describes,
// rewrites the workflow's literal inputs to match the request, runs it on ComfyUI and
// returns the produced media.
package comfyrunner

// Version is set at build time with -ldflags "-X github.com/richinsley/comfyrunner.Version=..."
var Version = "dev"
