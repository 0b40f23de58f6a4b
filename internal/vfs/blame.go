package vfs

import (
	"fmt"
	"strings"
	"time"

	"github.com/svnbridge/svnbridged/internal/gitobj"
	"github.com/svnbridge/svnbridged/internal/textmerge"
)

// BlameLine is one line of a blamed file, attributing it to the revision
// that last introduced or changed it.
type BlameLine struct {
	LineNo int
	Rev    int
	Author string
	Date   time.Time
	Bytes  string
}

type pendingLine struct {
	lineNo int
	text   string
}

// Blame attributes every line of the file at (rev, path) to the revision
// that last changed it, by walking the file's content backward through
// history and diffing consecutive revisions with the same line-oriented
// Myers diff the commit builder uses for three-way merges. A line is
// claimed by a revision the moment it shows up as an insertion relative to
// the prior revision; lines that trace back unchanged to the file's first
// appearance are claimed there.
func (fs *FS) Blame(rev int, path string) ([]BlameLine, error) {
	content, err := fs.Read(rev, path)
	if err != nil {
		return nil, fmt.Errorf("vfs: blame %q at rev %d: %w", path, rev, err)
	}
	lines := splitLines(string(content))

	claimed := make([]BlameLine, len(lines))
	pending := make([]pendingLine, len(lines))
	for i, l := range lines {
		pending[i] = pendingLine{lineNo: i + 1, text: l}
	}

	for r := rev; r >= 1 && len(pending) > 0; r-- {
		prevContent, err := fs.contentAtOrEmpty(r-1, path)
		if err != nil {
			return nil, fmt.Errorf("vfs: blame %q: read revision %d: %w", path, r-1, err)
		}
		prevLines := splitLines(prevContent)

		currTexts := make([]string, len(pending))
		for i, pl := range pending {
			currTexts[i] = pl.text
		}

		ops := textmerge.MyersDiff(prevLines, currTexts)

		var author string
		var date time.Time
		needMeta := false
		for _, op := range ops {
			if op.Type == textmerge.Insert {
				needMeta = true
				break
			}
		}
		if needMeta {
			commitHash, ok := fs.revs.CommitForRev(r)
			if !ok {
				return nil, fmt.Errorf("vfs: blame %q: no commit for revision %d", path, r)
			}
			commit, err := gitobj.ReadCommit(fs.store, commitHash)
			if err != nil {
				return nil, fmt.Errorf("vfs: blame %q: read commit for revision %d: %w", path, r, err)
			}
			author = commit.Author
			date = time.Unix(commit.Timestamp, 0).UTC()
		}

		var next []pendingLine
		ci := 0
		for _, op := range ops {
			switch op.Type {
			case textmerge.Equal:
				next = append(next, pending[ci])
				ci++
			case textmerge.Insert:
				pl := pending[ci]
				claimed[pl.lineNo-1] = BlameLine{LineNo: pl.lineNo, Rev: r, Author: author, Date: date, Bytes: pl.text}
				ci++
			case textmerge.Delete:
				// Present in the prior revision only; carries no pending line.
			}
		}
		pending = next
	}

	// Anything still pending after the walk traces to the revision before
	// the file existed in the tracked history, which cannot happen once r
	// reaches 0 and prevContent is always empty; left unclaimed only if rev
	// itself is 0.
	for _, pl := range pending {
		claimed[pl.lineNo-1] = BlameLine{LineNo: pl.lineNo, Rev: 0, Bytes: pl.text}
	}

	return claimed, nil
}

func (fs *FS) contentAtOrEmpty(rev int, path string) (string, error) {
	if rev <= 0 {
		return "", nil
	}
	n, err := fs.Stat(rev, path)
	if err != nil {
		return "", err
	}
	if n.Kind != KindFile {
		return "", nil
	}
	data, err := n.Open()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
