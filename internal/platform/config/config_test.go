package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrs "github.com/sifangyu/weipc/internal/core/errors"
)

func TestLoadSettings_MissingFileReturnsDefaults(t *testing.T) {
	settings, err := LoadSettings(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), settings.Forum.TargetForumID)
	assert.Equal(t, "砂鱼", settings.Forum.PublisherName)
	assert.Contains(t, settings.Workflow.Steps, "link_crawl")
}

func TestLoadSettings_MergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	err := os.WriteFile(path, []byte(`{
		"sites": {"linux_do": {"domain": "linux.do", "site_name": "Linux.do"}},
		"forum": {"target_forum_id": 7, "publisher_username": "bot", "publisher_user_id": 99}
	}`), 0o600)
	require.NoError(t, err)

	settings, err := LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, int64(7), settings.Forum.TargetForumID)
	require.Contains(t, settings.Sites, "linux_do")
	assert.Equal(t, "linux.do", settings.Sites["linux_do"].Domain)
	// unrelated defaults survive the merge
	assert.Contains(t, settings.Workflow.Steps, "content_crawl")
}

func TestLoadSettings_InvalidJSONIsConfigError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := LoadSettings(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeerrs.ErrConfig)
}
