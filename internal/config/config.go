package config

import (
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/circulatord/internal/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel = "info"

	defaultConfigName = "circulatord"
	defaultConfigDir  = "/etc"
	envConfigPath     = "CIRCULATORD_CONFIG"
)

type Config struct {
	LogLevel string `mapstructure:"log_level"`
	Debug    bool   `mapstructure:"debug"`
	Verbose  bool   `mapstructure:"verbose"`
	Monitor  bool   `mapstructure:"monitor"`

	Rooms      RoomsConfig      `mapstructure:"rooms"`
	Cycle      CycleConfig      `mapstructure:"cycle"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
}

type RoomsConfig struct {
	Monitored []string `mapstructure:"monitored"`
	Priority  string   `mapstructure:"priority"`
}

type CycleConfig struct {
	RunMinutes              int `mapstructure:"run_minutes"`
	CooldownMinutes         int `mapstructure:"cooldown_minutes"`
	ElevatedRunMinutes      int `mapstructure:"elevated_run_minutes"`
	ElevatedCooldownMinutes int `mapstructure:"elevated_cooldown_minutes"`
	DailyCapSeconds         int `mapstructure:"daily_cap_seconds"`
}

type CheckpointConfig struct {
	Path string `mapstructure:"path"`
}

type LedgerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Database string `mapstructure:"database"`
}

type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

func (c CycleConfig) RunDuration(elevated bool) time.Duration {
	if elevated {
		return time.Duration(c.ElevatedRunMinutes) * time.Minute
	}

	return time.Duration(c.RunMinutes) * time.Minute
}

func (c CycleConfig) CooldownDuration(elevated bool) time.Duration {
	if elevated {
		return time.Duration(c.ElevatedCooldownMinutes) * time.Minute
	}

	return time.Duration(c.CooldownMinutes) * time.Minute
}

func Load() (*Config, error) {
	errFactory := errors.New()

	v := viper.New()
	setDefaults(v)

	flags := pflag.NewFlagSet("circulatord", pflag.ContinueOnError)
	flags.ParseErrorsWhitelist.UnknownFlags = true
	flags.String("log-level", "", "Log level (debug, info, warning, error)")
	flags.Bool("debug", false, "Enable debugging mode")
	flags.Bool("verbose", false, "Enable verbose logging")
	flags.Bool("monitor", false, "Log decisions without commanding the actuator")
	flags.String("config", "", "Path to configuration file")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}

	if err := readConfigFile(v, flags); err != nil {
		return nil, err
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	applyLogLevel(config)

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("rooms.monitored", []string{"kitchen", "living_room", "hallway", "bathroom"})
	v.SetDefault("rooms.priority", "kitchen")
	v.SetDefault("cycle.run_minutes", 15)
	v.SetDefault("cycle.cooldown_minutes", 45)
	v.SetDefault("cycle.elevated_run_minutes", 20)
	v.SetDefault("cycle.elevated_cooldown_minutes", 25)
	v.SetDefault("cycle.daily_cap_seconds", 28800)
	v.SetDefault("checkpoint.path", "/var/lib/circulatord/checkpoint.json")
	v.SetDefault("ledger.enabled", true)
	v.SetDefault("ledger.database", "/var/lib/circulatord/ledger.db")
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "circulatord")
	v.SetDefault("mqtt.topic_prefix", "circulator")
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	errFactory := errors.New()

	bindings := map[string]string{
		"log_level": "log-level",
		"debug":     "debug",
		"verbose":   "verbose",
		"monitor":   "monitor",
	}

	for key, name := range bindings {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if flag.Changed {
			if err := v.BindPFlag(key, flag); err != nil {
				return errFactory.Wrap(errors.ErrBindFlags, err)
			}
		}
	}

	return nil
}

func readConfigFile(v *viper.Viper, flags *pflag.FlagSet) error {
	errFactory := errors.New()

	path := ""
	if flag := flags.Lookup("config"); flag != nil && flag.Changed {
		path = flag.Value.String()
	}
	if path == "" {
		path = os.Getenv(envConfigPath)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(configTypeFromPath(path))
		if err := v.ReadInConfig(); err != nil {
			return errFactory.WithMessage(errors.ErrReadConfig, "Failed to read config file: "+err.Error())
		}

		return nil
	}

	v.SetConfigName(defaultConfigName)
	v.SetConfigType("toml")
	v.AddConfigPath(defaultConfigDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errFactory.WithMessage(errors.ErrReadConfig, "Failed to read config file: "+err.Error())
		}
	}

	return nil
}

func configTypeFromPath(path string) string {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return "toml"
	}
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if len(c.Rooms.Monitored) == 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "no monitored rooms configured")
	}

	if c.Rooms.Priority != "" && !contains(c.Rooms.Monitored, c.Rooms.Priority) {
		return errFactory.WithData(errors.ErrInvalidConfig, "priority room is not monitored: "+c.Rooms.Priority)
	}

	if c.Cycle.RunMinutes <= 0 || c.Cycle.CooldownMinutes <= 0 ||
		c.Cycle.ElevatedRunMinutes <= 0 || c.Cycle.ElevatedCooldownMinutes <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "cycle durations must be positive")
	}

	if c.Cycle.DailyCapSeconds <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "daily cap must be positive")
	}

	if c.Checkpoint.Path == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "checkpoint path must be set")
	}

	if c.Ledger.Enabled && c.Ledger.Database == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "ledger database must be set when the ledger is enabled")
	}

	if c.MQTT.Broker == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "mqtt broker must be set")
	}

	return nil
}

func applyLogLevel(c *Config) {
	switch {
	case c.Debug:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case c.Verbose:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	default:
		switch LogLevel(c.LogLevel) {
		case LogLevelDebug:
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		case LogLevelInfo:
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		case LogLevelWarning:
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		case LogLevelError:
			zerolog.SetGlobalLevel(zerolog.ErrorLevel)
		}
	}
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}

	return false
}
