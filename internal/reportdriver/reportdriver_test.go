package reportdriver

import (
	"bytes"
	"strings"
	"testing"

	"github.com/svnbridge/svnbridged/internal/textmerge"
)

func TestSVNDiffRoundTrip(t *testing.T) {
	tests := []struct {
		name         string
		base, target string
	}{
		{"empty to content", "", "hello\n"},
		{"unchanged", "same\n", "same\n"},
		{"append line", "one\ntwo\n", "one\ntwo\nthree\n"},
		{"delete line", "one\ntwo\nthree\n", "one\nthree\n"},
		{"replace middle", "one\ntwo\nthree\n", "one\nTWO\nthree\n"},
		{"shrink to empty", "one\ntwo\n", ""},
		{"large repeated content", strings.Repeat("line\n", 500), strings.Repeat("line\n", 500) + "tail\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			window := EncodeSVNDiff([]byte(tt.base), []byte(tt.target))
			stream := EncodeSVNDiffStream(window)

			got, err := DecodeSVNDiff([]byte(tt.base), stream)
			if err != nil {
				t.Fatalf("DecodeSVNDiff: %v", err)
			}
			if string(got) != tt.target {
				t.Fatalf("round trip: got %q, want %q", got, tt.target)
			}
		})
	}
}

func TestDecodeSVNDiffStreamRejectsBadMagic(t *testing.T) {
	_, err := DecodeSVNDiffStream([]byte("not svndiff"))
	if err == nil {
		t.Fatal("expected an error for a stream missing the svndiff0 magic header")
	}
}

func TestApplySVNDiffWindowRejectsOutOfRangeCopy(t *testing.T) {
	window := SVNDiffWindow{
		SourceViewOffset: 0,
		SourceViewLen:    3,
		TargetViewLen:    10,
		Instructions:     []byte{instrCopySource, 0, 10},
	}
	if _, err := ApplySVNDiffWindow([]byte("abc"), window); err == nil {
		t.Fatal("expected an error for a copy instruction reading past the base content")
	}
}

func TestApplySVNDiffWindowRejectsUnsupportedOpcode(t *testing.T) {
	window := SVNDiffWindow{
		TargetViewLen: 1,
		Instructions:  []byte{0x40, 0, 1},
	}
	if _, err := ApplySVNDiffWindow(nil, window); err == nil {
		t.Fatal("expected an error for an unsupported copy-from-target instruction")
	}
}

func TestMyersLineDiffMatchesEncodedInstructions(t *testing.T) {
	base := []byte("one\ntwo\nthree\n")
	target := []byte("one\nTWO\nthree\n")

	ops := MyersLineDiff(base, target)
	var equal, changed int
	for _, op := range ops {
		if op.Type == textmerge.Equal {
			equal++
		} else {
			changed++
		}
	}
	if equal == 0 || changed == 0 {
		t.Fatalf("expected a mix of equal and changed lines, got %+v", ops)
	}

	window := EncodeSVNDiff(base, target)
	got, err := ApplySVNDiffWindow(base, window)
	if err != nil {
		t.Fatalf("ApplySVNDiffWindow: %v", err)
	}
	if string(got) != string(target) {
		t.Fatalf("window built from the same diff MyersLineDiff reports: got %q, want %q", got, target)
	}
}

func TestEncodeSVNDiffStreamHasMagicHeader(t *testing.T) {
	stream := EncodeSVNDiffStream(EncodeSVNDiff(nil, []byte("x\n")))
	if !bytes.HasPrefix(stream, []byte(svndiffMagic)) {
		t.Fatalf("stream missing svndiff0 magic: %x", stream[:4])
	}
}
