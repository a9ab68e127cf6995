package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"edit_worker/logging"
)

// BackendLocal is the name of the in-process reference backend.
const BackendLocal = "local"

// LocalConfig configures the in-process backend.
type LocalConfig struct {
	// OutputWidth and OutputHeight fix the output size. Zero keeps the
	// corresponding source dimension.
	OutputWidth  int
	OutputHeight int

	// MaxOutputPixels is the largest output the device can hold. Zero means
	// unlimited.
	MaxOutputPixels int
}

// LocalBackend is a deterministic in-process engine. It repaints the editable
// region of the source with a prompt-derived tint, which keeps the whole
// request path exercisable on machines without model weights.
type LocalBackend struct {
	cfg    LocalConfig
	logger *logging.Logger
}

// NewLocalBackend creates the in-process backend.
func NewLocalBackend(cfg LocalConfig, logger *logging.Logger) *LocalBackend {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LocalBackend{cfg: cfg, logger: logger}
}

func (b *LocalBackend) Name() string { return BackendLocal }

// Load checks device, precision and weight location.
func (b *LocalBackend) Load(ctx context.Context, opts LoadOptions) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := checkDevice(opts.Device, opts.Precision); err != nil {
		return nil, err
	}

	if strings.TrimSpace(opts.ModelID) == "" {
		return nil, fmt.Errorf("%w: model id is empty", ErrWeightsUnreachable)
	}
	if looksLikePath(opts.ModelID) {
		if _, err := os.Stat(opts.ModelID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrWeightsUnreachable, err)
		}
	}

	if opts.Device == DeviceCPU && opts.Memory.CPUOffload {
		b.logger.Debug("cpu offload has no effect on cpu device")
	}

	return &localInstance{cfg: b.cfg, logger: b.logger, device: opts.Device}, nil
}

// checkDevice rejects devices other than cuda and cpu, and half precision on cpu.
func checkDevice(device, precision string) error {
	switch precision {
	case PrecisionFloat32, PrecisionFloat16, PrecisionBFloat16:
	default:
		return fmt.Errorf("%w: precision %q", ErrUnsupportedDevice, precision)
	}

	switch device {
	case DeviceCUDA:
		return nil
	case DeviceCPU:
		if precision != PrecisionFloat32 {
			return fmt.Errorf("%w: %s requires %s, got %s", ErrUnsupportedDevice, DeviceCPU, PrecisionFloat32, precision)
		}
		return nil
	default:
		return fmt.Errorf("%w: device %q", ErrUnsupportedDevice, device)
	}
}

// looksLikePath reports whether id names local weights rather than a hub id
// such as "Qwen/Qwen-Image-Edit".
func looksLikePath(id string) bool {
	if filepath.IsAbs(id) || strings.HasPrefix(id, "./") || strings.HasPrefix(id, "../") || strings.HasPrefix(id, "~") {
		return true
	}
	switch strings.ToLower(filepath.Ext(id)) {
	case ".safetensors", ".ckpt", ".bin", ".gguf":
		return true
	}
	return false
}

type localInstance struct {
	cfg    LocalConfig
	logger *logging.Logger
	device string
	closed atomic.Bool
}

func (i *localInstance) Edit(ctx context.Context, params EditParams) ([]image.Image, error) {
	if i.closed.Load() {
		return nil, fmt.Errorf("%w: instance closed", ErrGenerationFailed)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	srcBounds := params.Image.Bounds()
	width, height := i.cfg.OutputWidth, i.cfg.OutputHeight
	if width <= 0 {
		width = srcBounds.Dx()
	}
	if height <= 0 {
		height = srcBounds.Dy()
	}
	if limit := i.cfg.MaxOutputPixels; limit > 0 && width*height > limit {
		return nil, fmt.Errorf("%w: %dx%d output exceeds %d pixel budget on %s",
			ErrOutOfMemory, width, height, limit, i.device)
	}

	rect := image.Rect(0, 0, width, height)

	src := image.NewNRGBA(rect)
	fit(src, params.Image, draw.CatmullRom)

	mask := image.NewGray(rect)
	fit(mask, params.Mask, draw.NearestNeighbor)

	tint := promptTint(params.Prompt)
	strength := editStrength(params.GuidanceScale, params.Steps)

	out := image.NewNRGBA(rect)
	for y := 0; y < height; y++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
		}
		for x := 0; x < width; x++ {
			s := src.NRGBAAt(x, y)
			keep := float64(mask.GrayAt(x, y).Y) / 255
			a := strength * (1 - keep)
			out.SetNRGBA(x, y, color.NRGBA{
				R: blend(s.R, tint.R, a),
				G: blend(s.G, tint.G, a),
				B: blend(s.B, tint.B, a),
				A: s.A,
			})
		}
	}

	i.logger.Debug("local edit complete",
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Float64("strength", strength))

	return []image.Image{out}, nil
}

func (i *localInstance) Close() error {
	i.closed.Store(true)
	return nil
}

// fit draws src over all of dst, copying when the sizes already match.
func fit(dst draw.Image, src image.Image, scaler draw.Scaler) {
	db, sb := dst.Bounds(), src.Bounds()
	if db.Size() == sb.Size() {
		draw.Copy(dst, db.Min, src, sb, draw.Src, nil)
		return
	}
	scaler.Scale(dst, db, src, sb, draw.Src, nil)
}

// promptTint derives a stable color from the prompt text.
func promptTint(prompt string) color.NRGBA {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(prompt))))
	sum := h.Sum32()
	return color.NRGBA{R: uint8(sum >> 16), G: uint8(sum >> 8), B: uint8(sum), A: 0xff}
}

// editStrength maps guidance and steps to a blend factor in (0, 1).
// Higher guidance follows the prompt more closely; more steps converge further.
func editStrength(guidance float64, steps int) float64 {
	g := guidance / (guidance + 2.5)
	s := float64(steps) / float64(steps+5)
	return g * s
}

func blend(from, to uint8, a float64) uint8 {
	v := float64(from)*(1-a) + float64(to)*a
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}
