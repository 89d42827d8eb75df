package confidence_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/absmach/fedrepair/pkg/confidence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLibrary(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "patterns.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
null_deref:
  - "if x == nil { return }"
off_by_one:
  - "for i := 0; i < len(s); i++"
  - "s[:len(s)-1]"
`), 0o600))

	lib, err := confidence.LoadLibrary(path)
	require.NoError(t, err)
	assert.Len(t, lib.Patterns("off_by_one"), 2)
	assert.Equal(t, []string{"if x == nil { return }"}, lib.Patterns("null_deref"))
	assert.Empty(t, lib.Patterns("race"))

	_, err = confidence.LoadLibrary(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("null_deref: {a: [1"), 0o600))
	_, err = confidence.LoadLibrary(bad)
	assert.Error(t, err)
}
