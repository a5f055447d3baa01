package actuator

import "codeberg.org/mutker/circulatord/internal/errors"

const defaultTopicPrefix = "circulator"

type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Broker == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "mqtt broker must be set")
	}

	return nil
}

func (c Config) prefix() string {
	if c.TopicPrefix == "" {
		return defaultTopicPrefix
	}

	return c.TopicPrefix
}

// Topic layout under the prefix.
func (c Config) pumpTopic() string         { return c.prefix() + "/pump/set" }
func (c Config) stateTopic() string        { return c.prefix() + "/state" }
func (c Config) priorityTopic() string     { return c.prefix() + "/priority_active" }
func (c Config) runSecondsTopic() string   { return c.prefix() + "/runtime_seconds" }
func (c Config) cycleCountTopic() string   { return c.prefix() + "/cycle_count" }
func (c Config) presenceTopic() string     { return c.prefix() + "/presence/+" }
func (c Config) presenceTopicBase() string { return c.prefix() + "/presence/" }
func (c Config) enableTopic() string       { return c.prefix() + "/enable" }
