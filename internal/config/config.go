// SPDX-License-Identifier: MIT
package config

import "time"

// Core configuration constants that define the boundaries and defaults
// for the keyword detection node.
const (
	// Listener defaults
	DefaultFrameLength       = 512                    // Samples per frame when the producer does not say
	DefaultBufferCapacity    = 2                      // Frames held between ingest and processing
	DefaultDropPolicy        = "drop-newest"          // Reject incoming frames when full
	DefaultTakeTimeout       = time.Second            // Processing loop wait per frame
	DefaultIdleTick          = 500 * time.Millisecond // 2 Hz idle re-check
	DefaultHandshakeTimeout  = 5 * time.Second        // Wait for an audio producer
	DefaultHandshakeInterval = 500 * time.Millisecond // Producer poll period
	DefaultStartCommand      = "e_start"
	DefaultStopCommand       = "e_stop"
	DefaultAction            = "e_record"

	// Topics and parameters
	DefaultAudioTopic       = "/microphone_node/audio"
	DefaultCommandTopic     = "~event_in"
	DefaultOutputTopic      = "/mbot_speech_recognition/event_in"
	DefaultFrameLengthParam = "/microphone_node/frame_length"
	DefaultRecordingParam   = "/microphone_node/recording"
	DefaultSubscriberQueue  = 5

	// Models
	DefaultModelsDir     = "models"
	DefaultAccessKeyFile = "access_key"
	DefaultModelExt      = ".ppn"

	// Microphone
	DefaultDeviceID   = MinDeviceID // Default to system default device
	DefaultSampleRate = 16000       // Keyword engines expect 16 kHz mono
	DefaultFormat     = "wav"

	// Hardware and processing limits
	MinDeviceID     = -1     // -1 represents system default device
	MinSampleRate   = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate   = 192000 // Maximum supported sample rate (Hz)
	MaxBufferFrames = 8192   // Maximum frames per buffer
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug      bool             `yaml:"debug"`     // Enable debug logging.
	LogLevel   string           `yaml:"log_level"` // Logging level (e.g., "debug", "info", "warn", "error").
	Listener   ListenerConfig   `yaml:"listener"`
	Topics     TopicsConfig     `yaml:"topics"`
	Params     ParamsConfig     `yaml:"params"`
	Models     ModelsConfig     `yaml:"models"`
	Microphone MicrophoneConfig `yaml:"microphone"`
	Transport  TransportConfig  `yaml:"transport"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ListenerConfig holds the streaming control loop settings.
type ListenerConfig struct {
	AutoStart         bool          `yaml:"autostart"`          // Issue a start command on boot.
	FrameLength       int           `yaml:"frame_length"`       // Fallback frame length in samples.
	BufferCapacity    int           `yaml:"buffer_capacity"`    // Frame buffer capacity.
	DropPolicy        string        `yaml:"drop_policy"`        // "drop-newest" or "drop-oldest".
	TakeTimeout       time.Duration `yaml:"take_timeout"`       // Processing loop dequeue timeout.
	IdleTick          time.Duration `yaml:"idle_tick"`          // Idle re-check period.
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`  // Producer readiness deadline.
	HandshakeInterval time.Duration `yaml:"handshake_interval"` // Producer poll period.
	StartCommand      string        `yaml:"start_command"`
	StopCommand       string        `yaml:"stop_command"`
	Action            string        `yaml:"action"` // Token published on detection.
}

// TopicsConfig names the bus topics the node is wired to.
type TopicsConfig struct {
	Audio           string `yaml:"audio"`
	Command         string `yaml:"command"`
	Output          string `yaml:"output"`
	SubscriberQueue int    `yaml:"subscriber_queue"`
}

// ParamsConfig names the shared parameters published by the audio producer.
type ParamsConfig struct {
	FrameLength string `yaml:"frame_length"`
	Recording   string `yaml:"recording"`
}

// ModelsConfig locates the keyword models and the engine credential.
type ModelsConfig struct {
	Dir           string `yaml:"dir"`
	Extension     string `yaml:"extension"`
	AccessKeyFile string `yaml:"access_key_file"`
}

// MicrophoneConfig holds the in-process PortAudio producer settings.
type MicrophoneConfig struct {
	Enabled       bool    `yaml:"enabled"`
	InputDevice   int     `yaml:"input_device"`   // PortAudio device index (-1 for default).
	SampleRate    float64 `yaml:"sample_rate"`    // Capture rate in Hz.
	LowLatency    bool    `yaml:"low_latency"`    // Request low latency settings from PortAudio.
	GateThreshold float64 `yaml:"gate_threshold"` // 0 disables the noise gate.
	Record        bool    `yaml:"record"`         // Record captured audio to a WAV file.
	OutputFile    string  `yaml:"output_file"`
}

// TransportConfig holds settings for the network transports.
type TransportConfig struct {
	WebSocketEnabled bool   `yaml:"websocket_enabled"`
	WebSocketAddress string `yaml:"websocket_address"` // Listen address, e.g. ":8080".
	UDPEnabled       bool   `yaml:"udp_enabled"`
	UDPTargetAddress string `yaml:"udp_target_address"` // e.g. "127.0.0.1:9090".
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// NewConfig creates a new Config instance with default values.
// This is the base configuration before applying a config file,
// environment overrides or command line flags.
func NewConfig() *Config {
	return &Config{
		LogLevel: "info",
		Listener: ListenerConfig{
			AutoStart:         true,
			FrameLength:       DefaultFrameLength,
			BufferCapacity:    DefaultBufferCapacity,
			DropPolicy:        DefaultDropPolicy,
			TakeTimeout:       DefaultTakeTimeout,
			IdleTick:          DefaultIdleTick,
			HandshakeTimeout:  DefaultHandshakeTimeout,
			HandshakeInterval: DefaultHandshakeInterval,
			StartCommand:      DefaultStartCommand,
			StopCommand:       DefaultStopCommand,
			Action:            DefaultAction,
		},
		Topics: TopicsConfig{
			Audio:           DefaultAudioTopic,
			Command:         DefaultCommandTopic,
			Output:          DefaultOutputTopic,
			SubscriberQueue: DefaultSubscriberQueue,
		},
		Params: ParamsConfig{
			FrameLength: DefaultFrameLengthParam,
			Recording:   DefaultRecordingParam,
		},
		Models: ModelsConfig{
			Dir:           DefaultModelsDir,
			Extension:     DefaultModelExt,
			AccessKeyFile: DefaultAccessKeyFile,
		},
		Microphone: MicrophoneConfig{
			InputDevice: DefaultDeviceID,
			SampleRate:  DefaultSampleRate,
		},
		Transport: TransportConfig{
			WebSocketEnabled: true,
			WebSocketAddress: ":8080",
			UDPTargetAddress: "127.0.0.1:9090",
		},
		Metrics: MetricsConfig{
			Address: ":9100",
		},
	}
}
