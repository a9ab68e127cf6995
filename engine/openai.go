package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"edit_worker/codec"
	"edit_worker/logging"
)

// BackendOpenAI is the name of the remote image-edit backend.
const BackendOpenAI = "openai"

// OpenAIConfig configures the remote backend.
type OpenAIConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL defaults to https://api.openai.com/v1.
	BaseURL string

	// Model is the image model. Defaults to dall-e-2, the model that
	// accepts edit masks.
	Model string

	// Size of the returned image, e.g. "1024x1024".
	Size string

	Timeout time.Duration

	// HTTPClient overrides the transport. Used by tests.
	HTTPClient openai.HTTPDoer
}

// OpenAIBackend edits images through the OpenAI images API.
//
// Thread Safety: safe for concurrent use. The underlying client handles
// connection pooling.
type OpenAIBackend struct {
	cfg    OpenAIConfig
	client *openai.Client
	logger *logging.Logger
}

// NewOpenAIBackend creates the remote backend. Returns an error if the API
// key is empty.
func NewOpenAIBackend(cfg OpenAIConfig, logger *logging.Logger) (*OpenAIBackend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("engine: OpenAI API key is required for the %s backend", BackendOpenAI)
	}
	if cfg.Model == "" {
		cfg.Model = openai.CreateImageModelDallE2
	}
	if cfg.Size == "" {
		cfg.Size = openai.CreateImageSize1024x1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	} else {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenAIBackend{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientConfig),
		logger: logger,
	}, nil
}

func (b *OpenAIBackend) Name() string { return BackendOpenAI }

// Load verifies the configured model is reachable. Device, precision and
// memory flags describe local placement and are ignored.
func (b *OpenAIBackend) Load(ctx context.Context, opts LoadOptions) (Instance, error) {
	if _, err := b.client.GetModel(ctx, b.cfg.Model); err != nil {
		return nil, fmt.Errorf("%w: model %s: %v", ErrWeightsUnreachable, b.cfg.Model, describeAPIError(err))
	}

	b.logger.Info("remote image model verified",
		zap.String("model", b.cfg.Model),
		zap.String("requested_model_id", opts.ModelID))

	return &openAIInstance{backend: b}, nil
}

type openAIInstance struct {
	backend *OpenAIBackend
	closed  atomic.Bool
}

func (i *openAIInstance) Edit(ctx context.Context, params EditParams) ([]image.Image, error) {
	if i.closed.Load() {
		return nil, fmt.Errorf("%w: instance closed", ErrGenerationFailed)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	b := i.backend
	b.logger.Debug("guidance scale and step count are not supported by the remote API",
		zap.Float64("guidance_scale", params.GuidanceScale),
		zap.Int("steps", params.Steps))

	imageFile, err := writeTempPNG(params.Image, TempImagePattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	defer removeTemp(imageFile)

	maskFile, err := writeTempPNG(alphaMask(params.Mask, params.Image.Bounds()), TempMaskPattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	defer removeTemp(maskFile)

	resp, err := b.client.CreateEditImage(ctx, openai.ImageEditRequest{
		Image:          imageFile,
		Mask:           maskFile,
		Prompt:         params.Prompt,
		Model:          b.cfg.Model,
		N:              1,
		Size:           b.cfg.Size,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, describeAPIError(err))
	}

	images := make([]image.Image, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.B64JSON == "" {
			continue
		}
		raw, err := codec.DecodeBytes(d.B64JSON)
		if err == nil {
			err = codec.ValidatePNG(raw, codec.DefaultMaxPixels)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: remote result: %v", ErrGenerationFailed, err)
		}
		img, _, err := codec.DecodeRaw(raw, codec.DefaultMaxPixels)
		if err != nil {
			return nil, fmt.Errorf("%w: decode remote result: %v", ErrGenerationFailed, err)
		}
		images = append(images, img)
	}
	if len(images) == 0 {
		return nil, ErrNoOutput
	}
	return images, nil
}

func (i *openAIInstance) Close() error {
	i.closed.Store(true)
	return nil
}

// alphaMask converts a single-channel mask (0 = editable) into the RGBA form
// the images API expects, where fully transparent pixels are editable. The
// result matches the source bounds.
func alphaMask(mask image.Image, bounds image.Rectangle) *image.NRGBA {
	rect := image.Rect(0, 0, bounds.Dx(), bounds.Dy())

	gray := image.NewGray(rect)
	fit(gray, mask, draw.NearestNeighbor)

	out := image.NewNRGBA(rect)
	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			out.SetNRGBA(x, y, color.NRGBA{A: gray.GrayAt(x, y).Y})
		}
	}
	return out
}

// Patterns of the temp files the OpenAI backend uploads from. They live in
// os.TempDir() and are removed after each call.
const (
	TempImagePattern = "edit-image-*.png"
	TempMaskPattern  = "edit-mask-*.png"
)

// writeTempPNG encodes img to a temp file rewound for reading.
func writeTempPNG(img image.Image, pattern string) (*os.File, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		removeTemp(f)
		return nil, fmt.Errorf("encode png: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		removeTemp(f)
		return nil, fmt.Errorf("rewind temp file: %w", err)
	}
	return f, nil
}

func removeTemp(f *os.File) {
	f.Close()
	os.Remove(f.Name())
}

// describeAPIError flattens go-openai errors to status and message.
func describeAPIError(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Sprintf("status %d: %v", reqErr.HTTPStatusCode, reqErr.Err)
	}
	return err.Error()
}
