package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHostErrorMessage(t *testing.T) {
	err := ConfigOptionError("filament_width_sensor", "pin")
	assert.Equal(t, ErrConfigOption, err.Code)
	assert.Equal(t, "filament_width_sensor", err.Section)
	assert.Equal(t, "pin", err.Option)
	assert.Contains(t, err.Error(), "CONFIG_OPTION")
	assert.Contains(t, err.Error(), "'pin'")
}

func TestWrapKeepsCause(t *testing.T) {
	cause := fmt.Errorf("disk on fire")
	err := Wrap(cause, ErrRuntimeInit, "open log")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestIsFollowsWrappedChain(t *testing.T) {
	inner := GCodeUnknownCommandError("M999")
	outer := fmt.Errorf("script line 3: %w", inner)
	assert.True(t, Is(outer, ErrGCodeUnknownCmd))
	assert.True(t, IsGCode(outer))
	assert.False(t, IsConfig(outer))

	nested := Wrap(ConfigValidationError("s", "o", "bad"), ErrRuntimeInit, "load")
	assert.True(t, Is(nested, ErrRuntimeInit))
	assert.True(t, Is(nested, ErrConfigValidation))
	assert.False(t, Is(nil, ErrRuntime))
}
