package brand

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	b := Get()
	assert.NotEmpty(t, b.Name)
	assert.Equal(t, b.BinaryName, BinaryName)
	assert.NotEmpty(t, Version)
}

func TestDirectories(t *testing.T) {
	t.Setenv(ConfigEnvPrefix+"_CONFIG_DIR", "")
	t.Setenv(ConfigEnvPrefix+"_STATE_DIR", "")
	t.Setenv(ConfigEnvPrefix+"_PREFIX", "")

	assert.Equal(t, DefaultConfigDir, GetConfigDir())
	assert.Equal(t, DefaultStateDir, GetStateDir())
	assert.Equal(t, filepath.Join(DefaultConfigDir, ConfigFileName), DefaultConfigFile())

	t.Setenv(ConfigEnvPrefix+"_PREFIX", "/opt/rc")
	assert.Equal(t, "/opt/rc/config", GetConfigDir())
	assert.Equal(t, filepath.Join("/opt/rc/state", StateFileName), DefaultStateFile())

	t.Setenv(ConfigEnvPrefix+"_STATE_DIR", "/tmp/state")
	assert.Equal(t, "/tmp/state", GetStateDir())
}
