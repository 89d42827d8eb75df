package cli_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/absmach/fedrepair/cli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, string) {
	t.Helper()

	root := cli.NewPolicyCmd()
	root.AddCommand(cli.NewSimulateCmd())

	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	require.NoError(t, root.Execute())

	return out.String(), errOut.String()
}

func TestPolicyValidate(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(valid, []byte("concurrency: 2\n"), 0o600))
	invalid := filepath.Join(dir, "policy.toml")
	require.NoError(t, os.WriteFile(invalid, []byte("concurrency = -1\n"), 0o600))

	cases := []struct {
		desc   string
		file   string
		out    string
		errOut string
	}{
		{desc: "valid yaml", file: valid, out: "is a valid policy"},
		{desc: "invalid toml", file: invalid, errOut: "error"},
		{desc: "missing file", file: filepath.Join(dir, "none.json"), errOut: "failed to read policy file"},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			out, errOut := execute(t, "validate", tc.file)
			if tc.out != "" {
				assert.Contains(t, out, tc.out)
			}
			if tc.errOut != "" {
				assert.Contains(t, errOut, tc.errOut)
			}
		})
	}
}

func TestPolicyDefault(t *testing.T) {
	out, _ := execute(t, "default")
	assert.Contains(t, out, "round_deadline")
	assert.Contains(t, out, "most_advanced")
}

func TestSimulate(t *testing.T) {
	out, errOut := execute(t, "simulate", "--clients", "2", "--tasks", "2", "--rounds", "1", "--codec", "cbor")
	assert.Empty(t, errOut)
	assert.Contains(t, out, "client-2")
	assert.Contains(t, out, "thresholds")

	_, errOut = execute(t, "simulate", "--codec", "xml")
	assert.Contains(t, errOut, "unsupported content type")
}
