package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvInt64OrDefault(t *testing.T) {
	t.Setenv("SANDBOX_TEST_INT", "1073741824")
	assert.Equal(t, int64(1073741824), envInt64OrDefault("SANDBOX_TEST_INT", 5))

	t.Setenv("SANDBOX_TEST_INT", "not-a-number")
	assert.Equal(t, int64(5), envInt64OrDefault("SANDBOX_TEST_INT", 5))

	assert.Equal(t, int64(7), envInt64OrDefault("SANDBOX_TEST_UNSET", 7))
}
