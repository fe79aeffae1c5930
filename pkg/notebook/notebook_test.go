package notebook

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	src := strings.Join([]string{
		"#!/bin/sh",
		"set -e",
		"",
		"# %% setup",
		"",
		"export DATA=/tmp/data",
		"mkdir -p $DATA",
		"",
		"# %% [markdown] Notes",
		"# this is prose",
		"",
		"# %%",
		"ls $DATA",
		"# %% [python] typed",
		"print(1)",
	}, "\n")

	cells, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, cells, 4)

	assert.Equal(t, Cell{Title: "", Line: 1, Source: "#!/bin/sh\nset -e"}, cells[0])
	assert.Equal(t, Cell{Title: "setup", Line: 6, Source: "export DATA=/tmp/data\nmkdir -p $DATA"}, cells[1])
	assert.Equal(t, Cell{Title: "", Line: 13, Source: "ls $DATA"}, cells[2])
	assert.Equal(t, Cell{Title: "typed", Line: 15, Source: "print(1)"}, cells[3])
}

func TestParse_RawCellDropped(t *testing.T) {
	cells, err := Parse(strings.NewReader("# %% [raw]\nraw text\n# %% run\necho ok\n"))
	require.NoError(t, err)
	require.Len(t, cells, 1)
	assert.Equal(t, "run", cells[0].Title)
}

func TestParse_CRLF(t *testing.T) {
	cells, err := Parse(strings.NewReader("# %% a\r\necho a\r\n# %% b\r\necho b\r\n"))
	require.NoError(t, err)
	require.Len(t, cells, 2)
	assert.Equal(t, "a", cells[0].Title)
	assert.Equal(t, "echo a", cells[0].Source)
	assert.Equal(t, "echo b", cells[1].Source)
}

func TestParseMarker(t *testing.T) {
	tests := []struct {
		line      string
		wantTitle string
		wantKind  string
		wantOK    bool
	}{
		{line: "# %%", wantOK: true},
		{line: "# %% train model", wantTitle: "train model", wantOK: true},
		{line: "# %% [markdown]", wantKind: "markdown", wantOK: true},
		{line: "# %% [Markdown] Intro", wantTitle: "Intro", wantKind: "markdown", wantOK: true},
		{line: "# %%%", wantOK: false},
		{line: "#%%", wantOK: false},
		{line: "echo '# %%'", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			title, kind, ok := parseMarker(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantTitle, title)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestParse_NoCells(t *testing.T) {
	for _, src := range []string{"", "\n\n", "# %%\n\n# %% [markdown]\n# prose\n"} {
		_, err := Parse(strings.NewReader(src))
		assert.ErrorIs(t, err, ErrNoCells, "%q", src)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nb.sh")
	require.NoError(t, os.WriteFile(path, []byte("# %% one\necho 1\n"), 0o600))

	nb, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, nb.Path)
	require.Len(t, nb.Cells, 1)
	assert.Equal(t, "echo 1", nb.Cells[0].Source)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.sh"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "empty.sh")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	_, err = Load(path)
	assert.ErrorIs(t, err, ErrNoCells)
	assert.Contains(t, err.Error(), path)
}
