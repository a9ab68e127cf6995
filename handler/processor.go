// Package handler turns one job payload into one response. It is the only
// place where validation, decoding, inference and encoding are sequenced.
//
// Every failure is folded into Response.Error; nothing is returned to the
// hosting runtime as a Go error and no panic escapes Process.
package handler

import (
	"context"
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"

	"edit_worker/codec"
	"edit_worker/diagnostics"
	"edit_worker/engine"
	"edit_worker/logging"
	"edit_worker/schema"
)

// Client-facing error messages.
const (
	MsgModelUnavailable = "model not available"
	MsgInvalidImage     = "invalid image data"
	MsgNoOutput         = "engine returned no images"
)

// Error categories reported on the metrics line.
const (
	CategoryEngineUnavailable = "engine_unavailable"
	CategoryValidation        = "validation"
	CategoryDecode            = "decode"
	CategoryOutOfMemory       = "out_of_memory"
	CategoryEngine            = "engine"
	CategoryEncode            = "encode"
	CategoryInternal          = "internal"
)

// ClientErrorCategories returns the categories caused by the request rather
// than the worker. They do not count against worker health.
func ClientErrorCategories() []string {
	return []string{CategoryValidation, CategoryDecode}
}

// Job is one unit of work from the hosting runtime.
type Job struct {
	ID    string         `json:"id,omitempty"`
	Input map[string]any `json:"input"`
}

// Response is the job output. Exactly one field is set.
type Response struct {
	ImageBase64 string `json:"image_base64,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Failed reports whether the response carries an error.
func (r Response) Failed() bool { return r.Error != "" }

func errorResponse(msg string) Response {
	return Response{Error: msg}
}

// Engine is the part of engine.Manager the processor needs.
type Engine interface {
	EnsureReady(ctx context.Context) (engine.Instance, error)
}

// MemoryReporter logs accelerator memory under an event name.
// engine.Manager implements it.
type MemoryReporter interface {
	LogMemory(ctx context.Context, event string)
}

// Config holds the per-deployment job settings. Clients cannot override
// them.
type Config struct {
	GuidanceScale float64
	Steps         int

	// MaxInputPixels bounds the declared size of user_image and mask_image.
	MaxInputPixels int

	// Memory, when set, is called before and after every inference.
	Memory MemoryReporter
}

// DefaultConfig returns guidance 7.5, 20 steps and the codec's default
// input size limit.
func DefaultConfig() Config {
	return Config{
		GuidanceScale:  engine.DefaultGuidanceScale,
		Steps:          engine.DefaultSteps,
		MaxInputPixels: codec.DefaultMaxPixels,
	}
}

// Processor executes jobs against the shared engine.
type Processor struct {
	engine Engine
	diag   *diagnostics.Diagnostics
	logger *logging.Logger
	cfg    Config
}

// NewProcessor creates a Processor. Zero config fields take defaults.
func NewProcessor(eng Engine, diag *diagnostics.Diagnostics, logger *logging.Logger, cfg Config) *Processor {
	if logger == nil {
		logger = logging.NewNop()
	}
	if diag == nil {
		diag = diagnostics.New(logger)
	}
	def := DefaultConfig()
	if cfg.GuidanceScale == 0 {
		cfg.GuidanceScale = def.GuidanceScale
	}
	if cfg.Steps == 0 {
		cfg.Steps = def.Steps
	}
	if cfg.MaxInputPixels <= 0 {
		cfg.MaxInputPixels = def.MaxInputPixels
	}
	return &Processor{engine: eng, diag: diag, logger: logger.Named("handler"), cfg: cfg}
}

// ProcessPayload unwraps a {"id", "input"} envelope and processes it.
func (p *Processor) ProcessPayload(ctx context.Context, raw map[string]any) Response {
	job := Job{}
	if id, ok := raw["id"].(string); ok {
		job.ID = id
	}
	if input, ok := raw["input"].(map[string]any); ok {
		job.Input = input
	}
	return p.Process(ctx, job)
}

// Process runs one job:
//
//  1. engine ready check
//  2. input validation
//  3. image and mask decoding (blank mask when none is given)
//  4. inference with the configured guidance and steps
//  5. encoding of the first output image
func (p *Processor) Process(ctx context.Context, job Job) (resp Response) {
	tr := p.diag.Begin(job.ID)
	log := tr.Logger(p.logger)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%v", r)
			log.Error("panic while processing job", zap.Error(err), zap.Stack("stack"))
			tr.Fail(diagnostics.PhaseError, CategoryInternal, err)
			resp = errorResponse("internal error: " + err.Error())
		}
		tr.Finish()
	}()

	inst, err := p.engine.EnsureReady(ctx)
	if err != nil {
		log.Error("engine not ready", zap.Error(err))
		tr.Fail(diagnostics.PhaseInit, CategoryEngineUnavailable, err)
		return errorResponse(MsgModelUnavailable)
	}
	tr.End(diagnostics.PhaseInit)

	tr.Start(diagnostics.PhaseValidate)
	record, err := schema.ValidateErr(job.Input, schema.EditRequestSchema)
	if err != nil {
		tr.Fail(diagnostics.PhaseValidate, CategoryValidation, err)
		return errorResponse(err.Error())
	}
	tr.End(diagnostics.PhaseValidate)

	tr.Start(diagnostics.PhaseDecode)
	prompt, _ := record.GetString(schema.FieldPrompt)
	src, format, mask, err := decodeInputs(record, p.cfg.MaxInputPixels)
	if err != nil {
		tr.Fail(diagnostics.PhaseDecode, CategoryDecode, err)
		return errorResponse(MsgInvalidImage)
	}
	log.Debug("inputs decoded",
		zap.String("format", format),
		zap.Int("width", src.Bounds().Dx()),
		zap.Int("height", src.Bounds().Dy()),
		zap.Bool("mask_provided", mask != nil))
	if mask == nil {
		mask = blankMask(src.Bounds())
	}
	tr.End(diagnostics.PhaseDecode)

	tr.Start(diagnostics.PhaseInfer)
	p.logMemory(ctx, "before_inference")
	images, err := inst.Edit(ctx, engine.EditParams{
		Prompt:        prompt,
		Image:         src,
		Mask:          mask,
		GuidanceScale: p.cfg.GuidanceScale,
		Steps:         p.cfg.Steps,
	})
	if err == nil && (len(images) == 0 || images[0] == nil) {
		err = engine.ErrNoOutput
	}
	if err != nil {
		p.logMemory(ctx, "inference_failed")
		category, msg := classifyEngineError(err)
		tr.Fail(diagnostics.PhaseInfer, category, err)
		return errorResponse(msg)
	}
	p.logMemory(ctx, "after_inference")
	tr.End(diagnostics.PhaseInfer)

	tr.Start(diagnostics.PhaseEncode)
	encoded, err := codec.EncodeImage(images[0])
	if err != nil {
		tr.Fail(diagnostics.PhaseEncode, CategoryEncode, err)
		return errorResponse("failed to encode result: " + err.Error())
	}
	tr.End(diagnostics.PhaseEncode)

	return Response{ImageBase64: encoded}
}

func (p *Processor) logMemory(ctx context.Context, event string) {
	if p.cfg.Memory != nil {
		p.cfg.Memory.LogMemory(ctx, event)
	}
}

// decodeInputs decodes user_image and, when present and non-empty,
// mask_image. mask is nil when no mask was supplied. format is the
// container format of user_image.
func decodeInputs(record schema.Record, maxPixels int) (src image.Image, format string, mask image.Image, err error) {
	imageText, _ := record.GetString(schema.FieldUserImage)
	src, format, err = codec.DecodeImage(imageText, maxPixels)
	if err != nil {
		return nil, "", nil, fmt.Errorf("user_image: %w", err)
	}

	if maskText, ok := record.GetString(schema.FieldMaskImage); ok && maskText != "" {
		mask, _, err = codec.DecodeImage(maskText, maxPixels)
		if err != nil {
			return nil, "", nil, fmt.Errorf("mask_image: %w", err)
		}
	}
	return src, format, mask, nil
}

// blankMask is an all-zero mask over bounds: every pixel editable.
func blankMask(bounds image.Rectangle) *image.Gray {
	return image.NewGray(bounds)
}

func classifyEngineError(err error) (category, msg string) {
	switch {
	case engine.IsOutOfMemory(err):
		return CategoryOutOfMemory, "engine out of memory: " + err.Error()
	case errors.Is(err, engine.ErrNoOutput):
		return CategoryEngine, MsgNoOutput
	default:
		return CategoryEngine, err.Error()
	}
}
