package geodiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSkipArgsEmpty(t *testing.T) {
	assert.Nil(t, skipArgs(nil))
	assert.Nil(t, skipArgs([]string{}))
}

func TestSkipArgsJoinsWithSemicolon(t *testing.T) {
	args := skipArgs([]string{"logs", "audit"})
	assert.Equal(t, []string{"--skip-tables", "logs;audit"}, args)
}

func TestDefaultExecutableName(t *testing.T) {
	name := defaultExecutableName()
	assert.NotEmpty(t, name)
}
