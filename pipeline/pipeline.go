// Package pipeline provides an in-memory image pipeline engine. Images are
// lightweight records tracking dimensions and the operations applied to them;
// no pixel data is touched. It backs the default server runtime and the
// integration tests.
package pipeline

import (
	"fmt"

	"github.com/solteris/imagebridge/bridge"
	"github.com/solteris/imagebridge/engine"
	"github.com/solteris/imagebridge/jseval"
)

// HandleKind marks image handles produced by this engine.
const HandleKind = "image"

const (
	defaultWidth  = 1024
	defaultHeight = 768
)

func init() {
	engine.MustRegister("memory", func() (*engine.Runtime, error) {
		return &engine.Runtime{Engine: New(), Evaluator: jseval.New()}, nil
	})
}

// Image is the opaque payload behind an image handle.
type Image struct {
	Name   string
	Width  int
	Height int
	// Ops records the applied operations, newest last.
	Ops []string
}

// Engine implements bridge.Engine over in-memory images.
type Engine struct {
	// UserFuncs are exposed as the session's user-defined pipeline steps.
	UserFuncs []*bridge.UserFunction
}

// New creates an engine without user functions.
func New() *Engine { return &Engine{} }

// UserFunctions returns the configured user-defined steps.
func (e *Engine) UserFunctions() []*bridge.UserFunction { return e.UserFuncs }

// Operations returns the image pipeline operations.
func (e *Engine) Operations() []*bridge.Descriptor {
	return []*bridge.Descriptor{
		{
			Name:   "load",
			Params: []bridge.Param{bridge.Req("file")},
			Fn:     opLoad,
		},
		{
			Name:   "sharpen",
			Params: []bridge.Param{bridge.Req("img"), bridge.Opt("kernel")},
			Fn:     opSharpen,
		},
		{
			Name:   "rescale",
			Params: []bridge.Param{bridge.Req("img"), bridge.Req("width"), bridge.Req("height")},
			Fn:     opRescale,
		},
		{
			Name:   "clahe",
			Params: []bridge.Param{bridge.Req("img"), bridge.Req("tileSize"), bridge.Req("bins"), bridge.Req("clip")},
			Fn:     opClahe,
		},
		{
			Name:   "width",
			Params: []bridge.Param{bridge.Req("img")},
			Fn:     opWidth,
		},
		{
			Name:   "height",
			Params: []bridge.Param{bridge.Req("img")},
			Fn:     opHeight,
		},
		{
			Name:     "stack",
			Params:   []bridge.Param{bridge.Req("images")},
			Variadic: true,
			Fn:       opStack,
		},
	}
}

func opLoad(args map[string]any) (any, error) {
	file, ok := args["file"].(string)
	if !ok || file == "" {
		return nil, fmt.Errorf("load needs a file path")
	}
	return handleFor(&Image{
		Name:   file,
		Width:  defaultWidth,
		Height: defaultHeight,
		Ops:    []string{"load"},
	}), nil
}

func opSharpen(args map[string]any) (any, error) {
	img, err := imageArg(args, "img")
	if err != nil {
		return nil, err
	}
	kernel := 3
	if raw, ok := args["kernel"]; ok {
		if kernel, err = asInt(raw); err != nil {
			return nil, fmt.Errorf("kernel: %w", err)
		}
	}
	return handleFor(derive(img, fmt.Sprintf("sharpen(kernel=%d)", kernel), img.Width, img.Height)), nil
}

func opRescale(args map[string]any) (any, error) {
	img, err := imageArg(args, "img")
	if err != nil {
		return nil, err
	}
	width, err := asInt(args["width"])
	if err != nil {
		return nil, fmt.Errorf("width: %w", err)
	}
	height, err := asInt(args["height"])
	if err != nil {
		return nil, fmt.Errorf("height: %w", err)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %dx%d", width, height)
	}
	return handleFor(derive(img, fmt.Sprintf("rescale(%dx%d)", width, height), width, height)), nil
}

func opClahe(args map[string]any) (any, error) {
	img, err := imageArg(args, "img")
	if err != nil {
		return nil, err
	}
	tile, err := asInt(args["tileSize"])
	if err != nil {
		return nil, fmt.Errorf("tileSize: %w", err)
	}
	bins, err := asInt(args["bins"])
	if err != nil {
		return nil, fmt.Errorf("bins: %w", err)
	}
	clip, err := asNum(args["clip"])
	if err != nil {
		return nil, fmt.Errorf("clip: %w", err)
	}
	op := fmt.Sprintf("clahe(tileSize=%d, bins=%d, clip=%g)", tile, bins, clip)
	return handleFor(derive(img, op, img.Width, img.Height)), nil
}

func opWidth(args map[string]any) (any, error) {
	img, err := imageArg(args, "img")
	if err != nil {
		return nil, err
	}
	return img.Width, nil
}

func opHeight(args map[string]any) (any, error) {
	img, err := imageArg(args, "img")
	if err != nil {
		return nil, err
	}
	return img.Height, nil
}

// opStack combines any number of images into one, sized to the largest
// input.
func opStack(args map[string]any) (any, error) {
	seq, ok := args["images"].([]any)
	if !ok || len(seq) == 0 {
		return nil, fmt.Errorf("stack needs at least one image")
	}

	width, height := 0, 0
	names := make([]string, len(seq))
	for i, raw := range seq {
		img, err := asImage(raw)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		if img.Width > width {
			width = img.Width
		}
		if img.Height > height {
			height = img.Height
		}
		names[i] = img.Name
	}

	return handleFor(&Image{
		Name:   names[0],
		Width:  width,
		Height: height,
		Ops:    []string{fmt.Sprintf("stack(%d)", len(seq))},
	}), nil
}

func handleFor(img *Image) *bridge.Handle {
	return &bridge.Handle{Kind: HandleKind, Data: img}
}

func derive(src *Image, op string, width, height int) *Image {
	ops := make([]string, len(src.Ops), len(src.Ops)+1)
	copy(ops, src.Ops)
	return &Image{
		Name:   src.Name,
		Width:  width,
		Height: height,
		Ops:    append(ops, op),
	}
}

func imageArg(args map[string]any, name string) (*Image, error) {
	return asImage(args[name])
}

func asImage(raw any) (*Image, error) {
	h, ok := raw.(*bridge.Handle)
	if !ok {
		return nil, fmt.Errorf("expected an image handle, got %T", raw)
	}
	img, ok := h.Data.(*Image)
	if !ok || h.Kind != HandleKind {
		return nil, fmt.Errorf("handle is not an image (kind %q)", h.Kind)
	}
	return img, nil
}

func asInt(raw any) (int, error) {
	switch n := raw.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", raw)
	}
}

func asNum(raw any) (float64, error) {
	switch n := raw.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", raw)
	}
}
