// Package core holds the worker's configuration, configuration errors,
// exit codes and build information.
package core

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"edit_worker/codec"
	"edit_worker/engine"
	"edit_worker/logging"
	"edit_worker/worker"
)

// EnvConfigFile names the optional YAML file read before the environment.
const EnvConfigFile = "WORKER_CONFIG_FILE"

// Config holds all configuration values.
//
// Sources, lowest precedence first: defaults, the YAML file named by
// WORKER_CONFIG_FILE, environment variables (after .env is loaded).
type Config struct {
	// Runtime
	Mode            string        `yaml:"mode"`      // WORKER_MODE: auto, queue, api, test
	APIPort         int           `yaml:"api_port"`  // API_PORT for the local API
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Engine
	Backend                        string        `yaml:"backend"` // ENGINE_BACKEND: local or openai
	ModelID                        string        `yaml:"model_id"`
	Precision                      string        `yaml:"precision"`
	Device                         string        `yaml:"device"`
	EnableCPUOffload               bool          `yaml:"enable_cpu_offload"`
	EnableMemoryEfficientAttention bool          `yaml:"enable_memory_efficient_attention"`
	GuidanceScale                  float64       `yaml:"guidance_scale"`
	InferenceSteps                 int           `yaml:"inference_steps"`
	OutputWidth                    int           `yaml:"output_width"`      // 0 keeps the source width
	OutputHeight                   int           `yaml:"output_height"`     // 0 keeps the source height
	MaxOutputPixels                int           `yaml:"max_output_pixels"` // 0 = unlimited
	MaxInputPixels                 int           `yaml:"max_input_pixels"`  // declared size of user_image and mask_image
	EngineTimeout                  time.Duration `yaml:"engine_timeout"`    // bounds one load attempt; 0 = none
	Accelerator                    string        `yaml:"accelerator"`       // auto, nvidia or none
	NvidiaSMIPath                  string        `yaml:"nvidia_smi_path"`

	// OpenAI backend
	OpenAIAPIKey     string `yaml:"-"`
	OpenAIBaseURL    string `yaml:"openai_base_url"`
	OpenAIImageModel string `yaml:"openai_image_model"`
	OpenAIImageSize  string `yaml:"openai_image_size"`

	// Job queue
	JobTakeURL     string        `yaml:"job_take_url"`
	JobDoneURL     string        `yaml:"job_done_url"`
	JobQueueAPIKey string        `yaml:"-"`
	WorkerID       string        `yaml:"worker_id"`
	PollInterval   time.Duration `yaml:"poll_interval"`

	// Logging
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`
	DevMode  bool   `yaml:"dev_mode"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Mode:            worker.ModeAuto,
		APIPort:         8000,
		ShutdownTimeout: 60 * time.Second,

		Backend:                        engine.BackendLocal,
		ModelID:                        engine.DefaultModelID,
		Precision:                      engine.PrecisionFloat16,
		Device:                         engine.DeviceCUDA,
		EnableCPUOffload:               true,
		EnableMemoryEfficientAttention: true,
		GuidanceScale:                  engine.DefaultGuidanceScale,
		InferenceSteps:                 engine.DefaultSteps,
		MaxOutputPixels:                engine.DefaultMaxOutputPixels,
		MaxInputPixels:                 codec.DefaultMaxPixels,
		Accelerator:                    engine.AcceleratorAuto,
		NvidiaSMIPath:                  "nvidia-smi",

		OpenAIImageModel: "dall-e-2",
		OpenAIImageSize:  "1024x1024",

		WorkerID:     "local",
		PollInterval: time.Second,

		LogFile:  "edit_worker.log",
		LogLevel: "info",
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// and the environment, then validates it. Every problem is reported; the
// returned error wraps one *ConfigError per problem.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	if path, ok := lookupEnv(EnvConfigFile); ok {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current values.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return ErrConfigFile(path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return ErrConfigFile(path, err)
	}
	return nil
}

// applyEnv overrides cfg with every environment variable that is set.
func (c *Config) applyEnv() error {
	overrideString("WORKER_MODE", &c.Mode)
	overrideString("ENGINE_BACKEND", &c.Backend)
	overrideString("MODEL_ID", &c.ModelID)
	overrideString("MODEL_PRECISION", &c.Precision)
	overrideString("ENGINE_DEVICE", &c.Device)
	overrideString("ACCELERATOR", &c.Accelerator)
	overrideString("NVIDIA_SMI_PATH", &c.NvidiaSMIPath)
	overrideString("OPENAI_API_KEY", &c.OpenAIAPIKey)
	overrideString("OPENAI_BASE_URL", &c.OpenAIBaseURL)
	overrideString("OPENAI_IMAGE_MODEL", &c.OpenAIImageModel)
	overrideString("OPENAI_IMAGE_SIZE", &c.OpenAIImageSize)
	overrideString("JOB_TAKE_URL", &c.JobTakeURL)
	overrideString("JOB_DONE_URL", &c.JobDoneURL)
	overrideString("JOB_QUEUE_API_KEY", &c.JobQueueAPIKey)
	overrideString("WORKER_ID", &c.WorkerID)
	overrideString("LOG_FILE", &c.LogFile)
	overrideString("LOG_LEVEL", &c.LogLevel)

	return errors.Join(
		overrideInt("API_PORT", &c.APIPort),
		overrideDuration("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout),
		overrideBool("ENABLE_CPU_OFFLOAD", &c.EnableCPUOffload),
		overrideBool("ENABLE_MEMORY_EFFICIENT_ATTENTION", &c.EnableMemoryEfficientAttention),
		overrideFloat("GUIDANCE_SCALE", &c.GuidanceScale),
		overrideInt("INFERENCE_STEPS", &c.InferenceSteps),
		overrideInt("OUTPUT_WIDTH", &c.OutputWidth),
		overrideInt("OUTPUT_HEIGHT", &c.OutputHeight),
		overrideInt("MAX_OUTPUT_PIXELS", &c.MaxOutputPixels),
		overrideInt("MAX_INPUT_PIXELS", &c.MaxInputPixels),
		overrideDuration("ENGINE_TIMEOUT", &c.EngineTimeout),
		overrideDuration("POLL_INTERVAL", &c.PollInterval),
		overrideBool("DEV_MODE", &c.DevMode),
	)
}

// Validate checks ranges and choices and reports every problem.
func (c *Config) Validate() error {
	var errs []error
	check := func(err *ConfigError) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	check(oneOf("WORKER_MODE", &c.Mode, worker.ModeAuto, worker.ModeQueue, worker.ModeAPI, worker.ModeTest))
	check(oneOf("ENGINE_BACKEND", &c.Backend, engine.BackendLocal, engine.BackendOpenAI))
	check(oneOf("MODEL_PRECISION", &c.Precision, engine.PrecisionFloat32, engine.PrecisionFloat16, engine.PrecisionBFloat16))
	check(oneOf("ENGINE_DEVICE", &c.Device, engine.DeviceCUDA, engine.DeviceCPU))
	check(oneOf("ACCELERATOR", &c.Accelerator, engine.AcceleratorAuto, engine.AcceleratorNvidia, engine.AcceleratorNone))
	check(oneOf("LOG_LEVEL", &c.LogLevel, logging.LevelNames...))

	if c.APIPort < 1 || c.APIPort > 65535 {
		check(ErrOutOfRange("API_PORT", c.APIPort, 1, 65535))
	}
	if c.GuidanceScale < engine.MinGuidanceScale || c.GuidanceScale > engine.MaxGuidanceScale {
		check(ErrOutOfRange("GUIDANCE_SCALE", c.GuidanceScale, engine.MinGuidanceScale, engine.MaxGuidanceScale))
	}
	if c.InferenceSteps < engine.MinSteps || c.InferenceSteps > engine.MaxSteps {
		check(ErrOutOfRange("INFERENCE_STEPS", c.InferenceSteps, engine.MinSteps, engine.MaxSteps))
	}
	if c.OutputWidth < 0 || c.OutputWidth > 8192 {
		check(ErrOutOfRange("OUTPUT_WIDTH", c.OutputWidth, 0, 8192))
	}
	if c.OutputHeight < 0 || c.OutputHeight > 8192 {
		check(ErrOutOfRange("OUTPUT_HEIGHT", c.OutputHeight, 0, 8192))
	}
	if c.MaxOutputPixels < 0 {
		check(ErrInvalidValue("MAX_OUTPUT_PIXELS", fmt.Sprint(c.MaxOutputPixels), "must not be negative"))
	}
	if c.MaxInputPixels < 1 || c.MaxInputPixels > codec.MaxDimension*codec.MaxDimension {
		check(ErrOutOfRange("MAX_INPUT_PIXELS", c.MaxInputPixels, 1, codec.MaxDimension*codec.MaxDimension))
	}
	if strings.TrimSpace(c.ModelID) == "" {
		check(ErrMissingConfig("MODEL_ID", "the engine has nothing to load"))
	}
	if strings.TrimSpace(c.LogFile) == "" {
		check(ErrMissingConfig("LOG_FILE", "diagnostics are written to it"))
	}

	if c.Backend == engine.BackendOpenAI && c.OpenAIAPIKey == "" {
		check(ErrMissingAuth("openai"))
	}
	if c.Mode == worker.ModeQueue && c.JobTakeURL == "" {
		check(ErrMissingConfig("JOB_TAKE_URL", "required in queue mode"))
	}

	return errors.Join(errs...)
}

// oneOf lowercases *value in place and checks it against choices.
func oneOf(key string, value *string, choices ...string) *ConfigError {
	*value = strings.ToLower(strings.TrimSpace(*value))
	for _, c := range choices {
		if *value == c {
			return nil
		}
	}
	return ErrInvalidValue(key, *value, "must be one of "+strings.Join(choices, ", "))
}

// EngineConfig maps the configuration onto engine.Config.
func (c *Config) EngineConfig() engine.Config {
	load := engine.DefaultLoadOptions()
	load.ModelID = c.ModelID
	load.Precision = c.Precision
	load.Device = c.Device
	load.Memory.CPUOffload = c.EnableCPUOffload
	load.Memory.MemoryEfficientAttention = c.EnableMemoryEfficientAttention

	return engine.Config{
		Backend: c.Backend,
		Load:    load,
		Local: engine.LocalConfig{
			OutputWidth:     c.OutputWidth,
			OutputHeight:    c.OutputHeight,
			MaxOutputPixels: c.MaxOutputPixels,
		},
		OpenAI: engine.OpenAIConfig{
			APIKey:  c.OpenAIAPIKey,
			BaseURL: c.OpenAIBaseURL,
			Model:   c.OpenAIImageModel,
			Size:    c.OpenAIImageSize,
		},
		Accelerator:   c.Accelerator,
		NvidiaSMIPath: c.NvidiaSMIPath,
		LoadTimeout:   c.EngineTimeout,
	}
}

// PollerConfig maps the configuration onto worker.PollerConfig.
func (c *Config) PollerConfig() worker.PollerConfig {
	return worker.PollerConfig{
		TakeURL:      c.JobTakeURL,
		DoneURL:      c.JobDoneURL,
		APIKey:       c.JobQueueAPIKey,
		WorkerID:     c.WorkerID,
		PollInterval: c.PollInterval,
	}
}

// APIAddr is the listen address of the local API.
func (c *Config) APIAddr() string {
	return fmt.Sprintf(":%d", c.APIPort)
}
