package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderHelpJSON_IncludesTargetDir(t *testing.T) {
	t.Parallel()
	out, err := RenderHelpJSON()
	require.NoError(t, err)
	assert.Contains(t, out, "target_dir")
	assert.Contains(t, out, "\"required\"")
}

func TestRenderHelpMarkdown_IncludesTargetDirAsRequired(t *testing.T) {
	t.Parallel()
	out := RenderHelpMarkdown()
	assert.Contains(t, out, "| Path | Type | Required |")
	assert.Contains(t, out, "`target_dir`")
	assert.Contains(t, out, "| `target_dir` | `string` | true |")
}

func TestRenderHelpMarkdown_FlattensNestedStruct(t *testing.T) {
	t.Parallel()
	out := RenderHelpMarkdown()
	assert.Contains(t, out, "`logging.level`")
}
