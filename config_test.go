package lily

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, 2000, cfg.GetInt("gc.threshold"))
	assert.Equal(t, 100, cfg.GetInt("vm.max_depth"))
	assert.True(t, cfg.GetBool("compiler.closures"))
}

// TestConfigLoadYAMLOverridesOnlyMentionedKeys loads a partial document
// and checks untouched knobs keep their defaults.
func TestConfigLoadYAMLOverridesOnlyMentionedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lily.yaml")
	doc := []byte("gc:\n  threshold: 64\nvm:\n  max_depth: 12\n")
	require.NoError(t, os.WriteFile(path, doc, 0o644))

	cfg := NewConfig()
	require.NoError(t, cfg.LoadYAML(path))
	assert.Equal(t, 64, cfg.GetInt("gc.threshold"))
	assert.Equal(t, 12, cfg.GetInt("vm.max_depth"))
	assert.Equal(t, 100, cfg.GetInt("vm.equality_depth_limit"))
}

func TestConfigLoadYAMLMissingFile(t *testing.T) {
	cfg := NewConfig()
	assert.Error(t, cfg.LoadYAML(filepath.Join(t.TempDir(), "absent.yaml")))
}
