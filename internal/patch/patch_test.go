package patch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnifiedEqual(t *testing.T) {
	assert.Equal(t, "", Unified("a.txt", "x\ny\n", "x\ny\n"))
	assert.Equal(t, "", Unified("a.txt", "", ""))
}

func TestUnifiedSingleLineChange(t *testing.T) {
	got := Unified("src/a.txt", "a\nb\n", "a\nB\n")
	want := "--- a/src/a.txt\n" +
		"+++ b/src/a.txt\n" +
		"@@ -1,2 +1,2 @@\n" +
		" a\n" +
		"-b\n" +
		"+B\n"
	assert.Equal(t, want, got)
}

func TestUnifiedCreateAndDelete(t *testing.T) {
	got := Unified("new.txt", "", "one\ntwo\n")
	assert.Equal(t, "--- a/new.txt\n+++ b/new.txt\n@@ -0,0 +1,2 @@\n+one\n+two\n", got)

	got = Unified("old.txt", "one\n", "")
	assert.Equal(t, "--- a/old.txt\n+++ b/old.txt\n@@ -1,1 +0,0 @@\n-one\n", got)
}

func TestUnifiedContextAndSeparateHunks(t *testing.T) {
	var before, after []string
	for i := 1; i <= 20; i++ {
		line := "line" + strings.Repeat("x", i)
		before = append(before, line)
		switch i {
		case 2:
			after = append(after, "changed-2")
		case 18:
			after = append(after, "changed-18")
		default:
			after = append(after, line)
		}
	}
	got := Unified("f", strings.Join(before, "\n")+"\n", strings.Join(after, "\n")+"\n")

	assert.Equal(t, 2, strings.Count(got, "@@ -"), got)
	assert.Contains(t, got, "@@ -1,5 +1,5 @@\n")
	assert.Contains(t, got, "@@ -15,6 +15,6 @@\n")
}

func TestUnifiedMergesNearbyChanges(t *testing.T) {
	before := "1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n"
	after := "1\nX\n3\n4\n5\n6\n7\nY\n9\n10\n"
	got := Unified("f", before, after)
	assert.Equal(t, 1, strings.Count(got, "@@ -"), got)
	assert.Contains(t, got, "@@ -1,10 +1,10 @@\n")
}

func TestUnifiedNoNewlineAtEnd(t *testing.T) {
	got := Unified("f", "a\nb", "a\nb\n")
	want := "--- a/f\n+++ b/f\n@@ -1,2 +1,2 @@\n a\n-b\n\\ No newline at end of file\n+b\n"
	assert.Equal(t, want, got)

	got = Unified("f", "a\nb\n", "a\nc")
	want = "--- a/f\n+++ b/f\n@@ -1,2 +1,2 @@\n a\n-b\n+c\n\\ No newline at end of file\n"
	assert.Equal(t, want, got)

	got = Unified("f", "a\nb", "a\nc")
	want = "--- a/f\n+++ b/f\n@@ -1,2 +1,2 @@\n a\n-b\n\\ No newline at end of file\n+c\n\\ No newline at end of file\n"
	assert.Equal(t, want, got)
}

func TestUnifiedZeroContext(t *testing.T) {
	got := UnifiedContext("f", "a\nb\nc\n", "a\nB\nc\n", 0)
	assert.Equal(t, "--- a/f\n+++ b/f\n@@ -2,1 +2,1 @@\n-b\n+B\n", got)
}

func TestUnifiedStripsLeadingSlash(t *testing.T) {
	got := Unified("/abs/f", "a\n", "b\n")
	require.NotEmpty(t, got)
	assert.True(t, strings.HasPrefix(got, "--- a/abs/f\n+++ b/abs/f\n"))
}

func TestFirstChangedLine(t *testing.T) {
	assert.Equal(t, -1, FirstChangedLine("a\nb\n", "a\nb\n"))
	assert.Equal(t, 0, FirstChangedLine("", "x\n"))
	assert.Equal(t, 2, FirstChangedLine("a\nb\nc\n", "a\nb\nC\n"))
	assert.Equal(t, 1, FirstChangedLine("a\nb\n", "a\n"))
}

func TestStats(t *testing.T) {
	added, removed := Stats("a\nb\nc\n", "a\nB\nc\nd\n")
	assert.Equal(t, 2, added)
	assert.Equal(t, 1, removed)

	added, removed = Stats("same", "same")
	assert.Zero(t, added)
	assert.Zero(t, removed)
}
