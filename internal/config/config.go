// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"serial2rudics/internal/protocol"
)

// EnvPrefix prefixes every environment override, e.g. SERIAL2RUDICS_DOCKSERVER_HOST
const EnvPrefix = "SERIAL2RUDICS"

// Config represents the application configuration
type Config struct {
	Dockserver DockserverConfig `mapstructure:"dockserver"`
	Serial     SerialConfig     `mapstructure:"serial"`
	Bridge     BridgeConfig     `mapstructure:"bridge"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Status     StatusConfig     `mapstructure:"status"`
	Simulate   SimulateConfig   `mapstructure:"simulate"`
}

// DockserverConfig represents the RUDICS endpoint
type DockserverConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	KeepAlive      bool          `mapstructure:"keep_alive"`
}

// SerialConfig represents the serial line settings
type SerialConfig struct {
	Device   string  `mapstructure:"device"`
	BaudRate int     `mapstructure:"baud_rate"`
	DataBits int     `mapstructure:"data_bits"`
	StopBits float64 `mapstructure:"stop_bits"`
	Parity   string  `mapstructure:"parity"`
}

// BridgeConfig represents session behaviour
type BridgeConfig struct {
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxOpenTime  time.Duration `mapstructure:"max_open_time"`
	MaxOpenDelay time.Duration `mapstructure:"max_open_delay"`
	PaceBaudRate int           `mapstructure:"pace_baud_rate"`
	BufferSize   int           `mapstructure:"buffer_size"`
	Transcript   string        `mapstructure:"transcript"`
}

// RetryConfig represents the reconnect policy
type RetryConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxInterval time.Duration `mapstructure:"max_interval"`
	Multiplier  float64       `mapstructure:"multiplier"`
	Spacing     time.Duration `mapstructure:"spacing"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// StatusConfig represents the optional status HTTP server
type StatusConfig struct {
	Listen         string   `mapstructure:"listen"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// SimulateConfig represents the bench simulators
type SimulateConfig struct {
	Dockserver       bool          `mapstructure:"dockserver"`
	DockserverInput  string        `mapstructure:"dockserver_input"`
	DockserverOutput string        `mapstructure:"dockserver_output"`
	SerialInput      string        `mapstructure:"serial_input"`
	SerialOutput     string        `mapstructure:"serial_output"`
	DrainTimeout     time.Duration `mapstructure:"drain_timeout"`
}

// secondsFlags are given in seconds on the command line but stored as durations
var secondsFlags = map[string]string{
	"connectTimeout":   "dockserver.connect_timeout",
	"idleTimeout":      "bridge.idle_timeout",
	"maxOpenTime":      "bridge.max_open_time",
	"maxOpenDelay":     "bridge.max_open_delay",
	"retryDelay":       "retry.interval",
	"reconnectSpacing": "retry.spacing",
}

// plainFlags map one-to-one onto configuration keys
var plainFlags = map[string]string{
	"host":           "dockserver.host",
	"port":           "dockserver.port",
	"serial":         "serial.device",
	"baudrate":       "serial.baud_rate",
	"parity":         "serial.parity",
	"bytesize":       "serial.data_bits",
	"stopbits":       "serial.stop_bits",
	"rudicsBaudrate": "bridge.pace_baud_rate",
	"binary":         "bridge.transcript",
	"logfile":        "logging.output",
	"logSize":        "logging.max_size",
	"logCount":       "logging.max_backups",
	"status":         "status.listen",
	"simDS":          "simulate.dockserver",
	"dsInput":        "simulate.dockserver_input",
	"dsOutput":       "simulate.dockserver_output",
	"input":          "simulate.serial_input",
	"output":         "simulate.serial_output",
}

// NewFlagSet returns the command-line flags understood by Load
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false

	fs.String("config", "", "Optional YAML configuration file")

	fs.String("host", "", "Dockserver hostname with RUDICS listener")
	fs.Int("port", protocol.DefaultRUDICSPort, "Dockserver's RUDICS port")
	fs.Float64("connectTimeout", 30, "Timeout for opening a RUDICS connection in seconds")

	fs.String("serial", "", "Serial device to use")
	fs.Int("baudrate", protocol.DefaultBaudRate, "Serial port baud rate")
	fs.String("parity", protocol.DefaultParity, "Serial port parity (none, odd, even, mark, space)")
	fs.Int("bytesize", protocol.DefaultDataBits, "Serial port data bits")
	fs.Float64("stopbits", protocol.DefaultStopBits, "Serial port stop bits (1, 1.5, 2)")

	fs.Float64("idleTimeout", 3600, "Seconds without dockserver traffic before closing the connection")
	fs.Float64("maxOpenTime", 86400, "Maximum length of time a single RUDICS connection can be open in seconds")
	fs.Float64("maxOpenDelay", 1800, "Seconds after a forced disconnect until reopening")
	fs.Int("rudicsBaudrate", 0, "Baud rate to feed characters to the RUDICS connection at, 0 for unlimited")
	fs.String("binary", "", "Transcript output filename")

	fs.Float64("retryDelay", 120, "Delay between retries at connecting to the RUDICS port in seconds")
	fs.Float64("reconnectSpacing", 10, "Delay between closing a RUDICS connection and opening a new one in seconds")

	fs.String("logfile", "stderr", "Log output: stdout, stderr or a filename")
	fs.Int("logSize", 10, "Maximum log file size in megabytes before rotation")
	fs.Int("logCount", 3, "Number of rotated log files to keep")
	fs.Bool("verbose", false, "Enable debug logging")

	fs.String("status", "", "Listen address of the status HTTP server, empty to disable")

	fs.Bool("simDS", false, "Simulate a dockserver on the loopback interface")
	fs.String("dsInput", "", "Input file fed to the serial side by the simulated dockserver")
	fs.String("dsOutput", "", "Output file for bytes received by the simulated dockserver")
	fs.String("input", "", "Input file fed through a pseudo terminal acting as the serial device")
	fs.String("output", "", "Output file for bytes written to the pseudo terminal")

	return fs
}

// Load parses args and merges flags, environment, an optional config file
// and defaults, in that order of precedence.
func Load(args []string) (*Config, error) {
	fs := NewFlagSet("serial2rudics")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return LoadFlags(fs)
}

// LoadFlags builds the configuration from an already parsed flag set
func LoadFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Environment variable support
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := bindFlags(v, fs); err != nil {
		return nil, err
	}

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// bindFlags wires command-line flags into v
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range plainFlags {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}

	// Duration keys would read a bare number as nanoseconds
	for name, key := range secondsFlags {
		if !fs.Changed(name) {
			continue
		}
		seconds, err := fs.GetFloat64(name)
		if err != nil {
			return fmt.Errorf("invalid --%s: %w", name, err)
		}
		v.Set(key, secondsToDuration(seconds))
	}

	if verbose, _ := fs.GetBool("verbose"); verbose {
		v.Set("logging.level", "debug")
	}

	return nil
}

// secondsToDurationHook reads a bare number given for a duration key as
// seconds, so config files and the environment agree with the flags.
// Values with a unit such as "90s" are left to the standard hook.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != durationType || from == durationType {
			return data, nil
		}

		value := reflect.ValueOf(data)
		var seconds float64
		switch from.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			seconds = float64(value.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			seconds = float64(value.Uint())
		case reflect.Float32, reflect.Float64:
			seconds = value.Float()
		case reflect.String:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(value.String()), 64)
			if err != nil {
				return data, nil
			}
			seconds = parsed
		default:
			return data, nil
		}
		return secondsToDuration(seconds), nil
	}
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Dockserver defaults
	v.SetDefault("dockserver.host", "")
	v.SetDefault("dockserver.port", protocol.DefaultRUDICSPort)
	v.SetDefault("dockserver.connect_timeout", "30s")
	v.SetDefault("dockserver.write_timeout", "30s")
	v.SetDefault("dockserver.keep_alive", true)

	// Serial defaults
	v.SetDefault("serial.device", "")
	v.SetDefault("serial.baud_rate", protocol.DefaultBaudRate)
	v.SetDefault("serial.data_bits", protocol.DefaultDataBits)
	v.SetDefault("serial.stop_bits", protocol.DefaultStopBits)
	v.SetDefault("serial.parity", protocol.DefaultParity)

	// Bridge defaults
	v.SetDefault("bridge.idle_timeout", "3600s")
	v.SetDefault("bridge.poll_interval", "1s")
	v.SetDefault("bridge.max_open_time", "86400s")
	v.SetDefault("bridge.max_open_delay", "1800s")
	v.SetDefault("bridge.pace_baud_rate", 0)
	v.SetDefault("bridge.buffer_size", 4096)
	v.SetDefault("bridge.transcript", "")

	// Retry defaults
	v.SetDefault("retry.interval", "120s")
	v.SetDefault("retry.max_interval", "120s")
	v.SetDefault("retry.multiplier", 1.0)
	v.SetDefault("retry.spacing", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 0)
	v.SetDefault("logging.compress", false)

	// Status server defaults
	v.SetDefault("status.listen", "")
	v.SetDefault("status.allowed_origins", []string{"*"})

	// Simulator defaults
	v.SetDefault("simulate.dockserver", false)
	v.SetDefault("simulate.dockserver_input", "")
	v.SetDefault("simulate.dockserver_output", "")
	v.SetDefault("simulate.serial_input", "")
	v.SetDefault("simulate.serial_output", "")
	v.SetDefault("simulate.drain_timeout", "10s")
}

// validate validates the configuration
func validate(config *Config) error {
	var errs []error

	if config.Dockserver.Host == "" && !config.Simulate.Dockserver {
		errs = append(errs, errors.New("dockserver.host is required (--host)"))
	}
	if config.Dockserver.Port < 1 || config.Dockserver.Port > 65535 {
		errs = append(errs, fmt.Errorf("dockserver.port must be within 1-65535, got %d", config.Dockserver.Port))
	}
	if config.Dockserver.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("dockserver.connect_timeout must be positive"))
	}
	if config.Dockserver.WriteTimeout <= 0 {
		errs = append(errs, errors.New("dockserver.write_timeout must be positive"))
	}

	if config.Serial.Device == "" && config.Simulate.SerialInput == "" {
		errs = append(errs, errors.New("serial.device is required (--serial)"))
	}
	if config.Serial.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud_rate must be positive, got %d", config.Serial.BaudRate))
	}
	if config.Serial.DataBits < 5 || config.Serial.DataBits > 8 {
		errs = append(errs, fmt.Errorf("serial.data_bits must be within 5-8, got %d", config.Serial.DataBits))
	}
	if _, err := protocol.ParseParity(config.Serial.Parity); err != nil {
		errs = append(errs, fmt.Errorf("serial.parity: %w", err))
	}
	if _, err := protocol.ParseStopBits(config.Serial.StopBits); err != nil {
		errs = append(errs, fmt.Errorf("serial.stop_bits: %w", err))
	}

	if config.Bridge.PollInterval <= 0 {
		errs = append(errs, errors.New("bridge.poll_interval must be positive"))
	}
	if config.Bridge.IdleTimeout < 0 {
		errs = append(errs, errors.New("bridge.idle_timeout must not be negative"))
	}
	if config.Bridge.MaxOpenTime < 0 || config.Bridge.MaxOpenDelay < 0 {
		errs = append(errs, errors.New("bridge.max_open_time and bridge.max_open_delay must not be negative"))
	}
	if config.Bridge.PaceBaudRate < 0 {
		errs = append(errs, errors.New("bridge.pace_baud_rate must not be negative"))
	}

	if config.Retry.Interval <= 0 {
		errs = append(errs, errors.New("retry.interval must be positive"))
	}
	if config.Retry.Multiplier < 0 {
		errs = append(errs, errors.New("retry.multiplier must not be negative"))
	}
	if config.Retry.Spacing < 0 {
		errs = append(errs, errors.New("retry.spacing must not be negative"))
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, config.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of: %v", validLevels))
	}
	validFormats := []string{"json", "console"}
	if !contains(validFormats, config.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format must be one of: %v", validFormats))
	}

	return errors.Join(errs...)
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

// TCPConfig returns the network endpoint configuration
func (c *Config) TCPConfig() *protocol.TCPConfig {
	return &protocol.TCPConfig{
		Host:         c.Dockserver.Host,
		Port:         c.Dockserver.Port,
		KeepAlive:    c.Dockserver.KeepAlive,
		Timeout:      c.Dockserver.ConnectTimeout,
		WriteTimeout: c.Dockserver.WriteTimeout,
	}
}

// SerialConfig returns the serial endpoint configuration
func (c *Config) SerialConfig() *protocol.SerialConfig {
	return &protocol.SerialConfig{
		Port:     c.Serial.Device,
		BaudRate: c.Serial.BaudRate,
		DataBits: c.Serial.DataBits,
		StopBits: c.Serial.StopBits,
		Parity:   c.Serial.Parity,
		Timeout:  c.Bridge.PollInterval,
	}
}

// IsDebugEnabled checks if debug logging is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.Logging.Level == "debug"
}
