package bridge

import (
	"path"
	"strconv"

	"chatd/pkg/types"
)

const (
	defaultBatch   = 128
	defaultContext = 1024
	// ModelMount is where the artifact directory appears inside the sandbox.
	ModelMount = "/models"
)

// Args builds the module's command line for a downloaded file. Options win
// over values stored with the file.
func Args(f types.DownloadedFile, o types.LoadModelOptions) []string {
	ctx := o.NCtx
	if ctx <= 0 {
		ctx = f.ContextSize
	}
	if ctx <= 0 {
		ctx = defaultContext
	}
	batch := o.NBatch
	if batch <= 0 {
		batch = defaultBatch
	}

	args := []string{
		"chat_ui.wasm",
		"-a", f.File.Name,
		"-m", path.Join(ModelMount, f.File.Name),
		"-c", strconv.Itoa(ctx),
	}
	if o.GPULayers != types.GPULayersMax {
		args = append(args, "-g", strconv.Itoa(int(o.GPULayers)))
	}
	args = append(args, "-b", strconv.Itoa(batch))

	tmpl := o.PromptTemplate
	if tmpl == "" {
		tmpl = f.PromptTemplate
	}
	if tmpl != "" {
		args = append(args, "-p", tmpl)
	}
	rev := o.ReversePrompt
	if rev == "" {
		rev = f.ReversePrompt
	}
	if rev != "" {
		args = append(args, "-r", rev)
	}
	if o.UseMlock {
		args = append(args, "--mlock")
	}
	if o.RopeFreqBase > 0 {
		args = append(args, "--rope-freq-base", strconv.FormatFloat(o.RopeFreqBase, 'g', -1, 64))
	}
	if o.RopeFreqScale > 0 {
		args = append(args, "--rope-freq-scale", strconv.FormatFloat(o.RopeFreqScale, 'g', -1, 64))
	}
	if o.ContextOverflowPolicy != "" {
		args = append(args, "--overflow", string(o.ContextOverflowPolicy))
	}
	return args
}
