package pkg

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBytesToString(t *testing.T) {
	want := "test"
	stringBytes := []byte(want)
	got := BytesToString(stringBytes)
	assert.Equal(t, want, got)
}

func TestPathExists(t *testing.T) {
	exists, err := PathExists("/invalid/path/some-dir", true)
	assert.NoError(t, err)
	assert.False(t, exists)
	exists, err = PathExists("/invalid/path/some-file", false)
	assert.NoError(t, err)
	assert.False(t, exists)

	tempDir := t.TempDir()
	exists, err = PathExists(tempDir, true)
	assert.NoError(t, err)
	assert.True(t, exists)

	// a dir is not a file
	exists, err = PathExists(tempDir, false)
	assert.NoError(t, err)
	assert.False(t, exists)
}

func TestEnsureDir(t *testing.T) {
	tempDir := t.TempDir()
	newDir := filepath.Join(tempDir, "exports", "activities")

	require.NoError(t, EnsureDir(newDir))
	exists, err := PathExists(newDir, true)
	require.NoError(t, err)
	assert.True(t, exists)

	// second call is a no-op
	require.NoError(t, EnsureDir(newDir))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t,
		"2025-05-10_081500_running_Morning_Run_1234.tcx",
		SanitizeFilename("2025-05-10_081500_running_Morning Run_1234.tcx"),
	)
	assert.Equal(t, "a_b_c", SanitizeFilename("a/b\\c"))
	assert.Equal(t, "0815", SanitizeFilename("08:15"))
}
