package atomicfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCreatesFileAndCleansUpTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	require.NoError(t, Write(path, []byte("hello"), 0o644))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestWriteFailsIfTargetIsADirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out")
	require.NoError(t, os.Mkdir(path, 0o755))

	err := Write(path, []byte("x"), 0o644)
	assert.Error(t, err)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be cleaned up on rename failure")
}

func TestBatchCommitsAllOrNothing(t *testing.T) {
	dir := t.TempDir()
	var b Batch
	b.Add(filepath.Join(dir, "a.txt"), []byte("a"), 0o644)
	b.Add(filepath.Join(dir, "b.txt"), []byte("b"), 0o644)

	require.NoError(t, b.Commit())

	for _, name := range []string{"a.txt", "b.txt"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err)
	}
}

func TestBatchFailsCleanlyWhenOneTargetIsUnwritable(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	require.NoError(t, os.Mkdir(blocked, 0o755))

	var b Batch
	b.Add(filepath.Join(dir, "ok.txt"), []byte("ok"), 0o644)
	b.Add(blocked, []byte("x"), 0o644)

	err := b.Commit()
	assert.Error(t, err)

	_, err = os.Stat(filepath.Join(dir, "ok.txt.tmp"))
	assert.True(t, os.IsNotExist(err), "partial temp files must be cleaned up on failure")
}
