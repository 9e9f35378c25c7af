package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/hippocamp/internal/model"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestReadCreateRequest(t *testing.T) {
	arr := writeFile(t, `[{"project":"p","content":"a","type":"code_pattern"}]`)
	req, err := readCreateRequest(arr)
	require.NoError(t, err)
	require.Len(t, req.Items, 1)
	assert.Equal(t, model.TypeCodePattern, req.Items[0].Type)

	obj := writeFile(t, `{"batch_id":"b1","continue_on_error":true,"memories":[{"project":"p","content":"a","type":"bug_pattern"},{"project":"p","content":"b","type":"bug_pattern"}]}`)
	req, err = readCreateRequest(obj)
	require.NoError(t, err)
	assert.Equal(t, "b1", req.BatchID)
	assert.True(t, req.ContinueOnError)
	assert.Len(t, req.Items, 2)

	_, err = readCreateRequest(writeFile(t, `{not json`))
	assert.Error(t, err)
}

func TestReadUpdateRequest(t *testing.T) {
	path := writeFile(t, `[{"id":"01A","patch":{"content":"new","deprecated":true}}]`)
	req, err := readUpdateRequest(path)
	require.NoError(t, err)
	require.Len(t, req.Updates, 1)
	assert.Equal(t, "01A", req.Updates[0].ID)
	require.NotNil(t, req.Updates[0].Patch.Content)
	assert.Equal(t, "new", *req.Updates[0].Patch.Content)
	assert.Nil(t, req.Updates[0].Patch.Type)
}

func TestParseMeta(t *testing.T) {
	got, err := parseMeta([]string{"env=prod", "tier=2", "flag=true", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"env": "prod", "tier": float64(2), "flag": true, "note": "a=b"}, got)

	got, err = parseMeta(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseMeta([]string{"novalue"})
	assert.Error(t, err)
}

func TestParseTimeFlag(t *testing.T) {
	ts, err := parseTimeFlag("")
	require.NoError(t, err)
	assert.Nil(t, ts)

	ts, err = parseTimeFlag("2026-01-02T03:04:05Z")
	require.NoError(t, err)
	assert.Equal(t, 2026, ts.Year())

	_, err = parseTimeFlag("yesterday")
	assert.Error(t, err)
}
