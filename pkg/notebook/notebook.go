// Package notebook reads percent-format notebooks: plain scripts split into
// cells by "# %%" marker lines.
//
//	# %% setup
//	export DATA=/tmp/data
//
//	# %% [markdown]
//	# Notes are skipped.
//
//	# %% train
//	./train.sh "$DATA"
package notebook

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNoCells is returned for a notebook without any code cell.
var ErrNoCells = errors.New("notebook has no code cells")

const marker = "# %%"

// proseKinds are cell kinds that hold text rather than code.
var proseKinds = map[string]bool{"markdown": true, "md": true, "raw": true}

// Cell is one code cell.
type Cell struct {
	// Title is the text after the marker, without the [kind] tag.
	Title string
	// Line is the 1-based line of the first source line in the file.
	Line   int
	Source string
}

// Notebook is a parsed notebook.
type Notebook struct {
	Path  string
	Cells []Cell
}

// Load parses the notebook at path.
func Load(path string) (*Notebook, error) {
	// #nosec G304 - the notebook path is given by the user
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open notebook: %w", err)
	}
	defer func() { _ = f.Close() }()

	cells, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Notebook{Path: path, Cells: cells}, nil
}

// Parse splits r into code cells. Text before the first marker is a cell of
// its own when it has any content. Markdown and raw cells are dropped, as
// are cells with only blank lines.
func Parse(r io.Reader) ([]Cell, error) {
	var (
		cells   []Cell
		cur     = &pending{code: true, line: 1}
		lineNum int
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")

		title, kind, ok := parseMarker(line)
		if !ok {
			cur.add(line)
			continue
		}
		if c, ok := cur.cell(); ok {
			cells = append(cells, c)
		}
		cur = &pending{title: title, code: !proseKinds[kind], line: lineNum + 1}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read notebook: %w", err)
	}
	if c, ok := cur.cell(); ok {
		cells = append(cells, c)
	}

	if len(cells) == 0 {
		return nil, ErrNoCells
	}
	return cells, nil
}

// parseMarker recognizes "# %%", "# %% title" and "# %% [kind] title".
func parseMarker(line string) (title, kind string, ok bool) {
	rest, found := strings.CutPrefix(line, marker)
	if !found {
		return "", "", false
	}
	// "# %%%" and "# %%foo" are comments, not markers.
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return "", "", false
	}
	rest = strings.TrimSpace(rest)

	if strings.HasPrefix(rest, "[") {
		if end := strings.IndexByte(rest, ']'); end > 0 {
			kind = strings.ToLower(strings.TrimSpace(rest[1:end]))
			rest = strings.TrimSpace(rest[end+1:])
		}
	}
	return rest, kind, true
}

type pending struct {
	title string
	code  bool
	line  int
	lines []string
}

func (p *pending) add(line string) {
	p.lines = append(p.lines, line)
}

// cell returns the finished cell, trimmed of surrounding blank lines.
func (p *pending) cell() (Cell, bool) {
	if !p.code {
		return Cell{}, false
	}

	start, end := 0, len(p.lines)
	for start < end && strings.TrimSpace(p.lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(p.lines[end-1]) == "" {
		end--
	}
	if start == end {
		return Cell{}, false
	}

	return Cell{
		Title:  p.title,
		Line:   p.line + start,
		Source: strings.Join(p.lines[start:end], "\n"),
	}, true
}
