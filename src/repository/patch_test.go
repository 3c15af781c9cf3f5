// Copyright (c) 2026 Khaled Abbas
//
// This source code is licensed under the Business Source License 1.1.
//
// Change Date: 4 years after the first public release of this version.
// Change License: MIT
//
// On the Change Date, this version of the code automatically converts
// to the MIT License. Prior to that date, use is subject to the
// Additional Use Grant. See the LICENSE file for details.

package repository

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const textPatch = `diff --git a/pkg/a.py b/pkg/a.py
--- a/pkg/a.py
+++ b/pkg/a.py
@@ -1,3 +1,3 @@
 def f():
-    return 1
+    return 2
`

func TestFilterBinaryHunksKeepsTextDiffs(t *testing.T) {
	assert.Equal(t, textPatch, FilterBinaryHunks(textPatch))
}

func TestFilterBinaryHunksDropsBinarySections(t *testing.T) {
	patch := textPatch +
		"diff --git a/img.png b/img.png\n" +
		"index 0000000..1111111 100644\n" +
		"Binary files a/img.png and b/img.png differ\n"

	filtered := FilterBinaryHunks(patch)
	assert.NotContains(t, filtered, "Binary files")
	assert.NotContains(t, filtered, "img.png")
	assert.Contains(t, filtered, "pkg/a.py")
}

func TestFilterBinaryHunksDropsGitBinaryPatch(t *testing.T) {
	patch := "GIT binary patch\n" +
		"literal 48\n" +
		"zcmV+100000\n" +
		"Binary files a/blob.bin and b/blob.bin differ\n" +
		textPatch

	filtered := FilterBinaryHunks(patch)
	assert.NotContains(t, filtered, "literal 48")
	assert.Contains(t, filtered, "pkg/a.py")
}

func TestModifiedFiles(t *testing.T) {
	patch := textPatch +
		`diff --git a/pkg/b.py b/pkg/b.py
--- a/pkg/b.py
+++ b/pkg/b.py
@@ -1,2 +1,2 @@
-
+
`
	// b.py only changes whitespace; a.py is a real edit.
	assert.Equal(t, []string{"pkg/a.py"}, ModifiedFiles(patch))
}

func TestModifiedFilesEmptyPatch(t *testing.T) {
	assert.Empty(t, ModifiedFiles(""))
}

func TestHashTreeStableAndSensitive(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("beta"), 0o644))

	first, err := HashTree(dir)
	require.NoError(t, err)
	second, err := HashTree(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("gamma"), 0o644))
	changed, err := HashTree(dir)
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)
}

func TestHashTreeIgnoresGitDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha"), 0o644))

	before, err := HashTree(dir)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "index"), []byte("junk"), 0o644))

	after, err := HashTree(dir)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRepoName(t *testing.T) {
	assert.Equal(t, "repo", repoName("https://example.com/owner/repo"))
	assert.Equal(t, "repo", repoName("https://example.com/owner/repo.git"))
	assert.Equal(t, "repo", repoName("https://example.com/owner/repo/"))
}
