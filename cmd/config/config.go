package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/playback"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/reassembly"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/session"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/utils"
	"github.com/spf13/viper"
)

const (
	envPrefix = "STORYVOICE"

	TransportWebSocket = "websocket"
	TransportWebRTC    = "webrtc"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	LogLevel string `mapstructure:"loglevel"`
	LogFile  string `mapstructure:"logfile"`
	// Level per component, e.g. reassembler: debug. Overrides LogLevel for that component.
	ComponentLogLevels map[string]string `mapstructure:"componentloglevels"`

	// The websocket endpoint, or the signalling endpoint when Transport is webrtc.
	ServerURL  string   `mapstructure:"serverurl"`
	AuthToken  string   `mapstructure:"authtoken"`
	Transport  string   `mapstructure:"transport"`
	ICEServers []string `mapstructure:"iceservers"`

	Volume             float32       `mapstructure:"volume"`
	FlushRemainder     bool          `mapstructure:"flushremainder"`
	EmitThreshold      int           `mapstructure:"emitthreshold"`
	ChunkSize          int           `mapstructure:"chunksize"`
	EngineSampleRate   int           `mapstructure:"enginesamplerate"`
	RenderBufferFrames int           `mapstructure:"renderbufferframes"`
	ReleaseDebounce    time.Duration `mapstructure:"releasedebounce"`

	// .WAV file looped as the microphone. Empty disables outbound audio.
	CaptureFile          string        `mapstructure:"capturefile"`
	CaptureSampleRate    int           `mapstructure:"capturesamplerate"`
	CaptureFrameDuration time.Duration `mapstructure:"captureframeduration"`

	// .WAV file recording the rendered output. Empty renders nowhere.
	OutputFile string `mapstructure:"outputfile"`

	// Address serving /metrics. Empty disables the endpoint.
	MetricsAddress string `mapstructure:"metricsaddress"`
}

// Load the config from the YAML file at configFilePath, falling back to defaults for any key
// not set. A missing file is not an error. Every key may be overridden by an environment
// variable, e.g. STORYVOICE_SERVERURL.
func LoadConfig(configFilePath string) (Config, error) {
	v := viper.New()
	utils.SetViperDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetConfigFile(configFilePath)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			slog.Info("no config file found", "configFilePath", configFilePath)
		} else {
			slog.Error("error during config read", "err", err)
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.ServerURL == "" {
		errs = append(errs, errors.New("serverurl must be set"))
	}
	if c.Transport != TransportWebSocket && c.Transport != TransportWebRTC {
		errs = append(errs, fmt.Errorf("unsupported transport %q", c.Transport))
	}
	if c.Volume < 0 {
		errs = append(errs, fmt.Errorf("volume must be non-negative, got %v", c.Volume))
	}
	if c.EmitThreshold < 0 || c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("invalid reassembly sizes: emitthreshold=%d chunksize=%d", c.EmitThreshold, c.ChunkSize))
	}
	if c.EngineSampleRate <= 0 || c.RenderBufferFrames <= 0 {
		errs = append(errs, fmt.Errorf("invalid render format: enginesamplerate=%d renderbufferframes=%d", c.EngineSampleRate, c.RenderBufferFrames))
	}
	if c.CaptureFile != "" && (c.CaptureSampleRate <= 0 || c.CaptureFrameDuration <= 0) {
		errs = append(errs, fmt.Errorf("invalid capture format: capturesamplerate=%d captureframeduration=%v", c.CaptureSampleRate, c.CaptureFrameDuration))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// The session configuration described by this config.
func (c Config) SessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.ReleaseDebounce = c.ReleaseDebounce
	cfg.RenderBufferFrames = c.RenderBufferFrames

	cfg.Reassembly = reassembly.DefaultConfig()
	cfg.Reassembly.EmitThreshold = c.EmitThreshold
	cfg.Reassembly.ChunkSize = c.ChunkSize
	cfg.Reassembly.FlushRemainder = c.FlushRemainder

	cfg.Playback = playback.DefaultConfig()
	cfg.Playback.EngineSampleRate = c.EngineSampleRate
	cfg.Playback.Volume = c.Volume
	return cfg
}
