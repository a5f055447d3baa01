package actuator_test

import (
	"testing"

	"codeberg.org/mutker/circulatord/internal/actuator"
	"github.com/stretchr/testify/assert"
)

func TestParseBool(t *testing.T) {
	tests := []struct {
		payload string
		value   bool
		ok      bool
	}{
		{"ON", true, true},
		{"off", false, true},
		{" true ", true, true},
		{"0", false, true},
		{"toggle", false, false},
		{"", false, false},
	}

	for _, tt := range tests {
		value, ok := actuator.ParseBool(tt.payload)
		assert.Equal(t, tt.ok, ok, "payload %q", tt.payload)
		assert.Equal(t, tt.value, value, "payload %q", tt.payload)
	}
}

func TestFormatBool(t *testing.T) {
	assert.Equal(t, "ON", actuator.FormatBool(true))
	assert.Equal(t, "OFF", actuator.FormatBool(false))
}

func TestConfigValidate(t *testing.T) {
	err := actuator.Config{}.Validate()
	assert.Error(t, err)

	err = actuator.Config{Broker: "tcp://localhost:1883"}.Validate()
	assert.NoError(t, err)
}

func TestFakeCommanderRecords(t *testing.T) {
	fake := actuator.NewFakeCommander()
	assert.False(t, fake.PumpOn())

	assert.NoError(t, fake.SetPump(true))
	assert.NoError(t, fake.SetPump(false))
	assert.Equal(t, []bool{true, false}, fake.PumpCommands)
	assert.False(t, fake.PumpOn())

	assert.NoError(t, fake.PublishStatus(actuator.Status{State: "idle"}))
	assert.Len(t, fake.Statuses, 1)

	assert.NoError(t, fake.Close())
	assert.True(t, fake.Closed)
}
