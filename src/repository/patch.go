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
	"regexp"
	"strings"
)

var (
	binaryPatchStart  = regexp.MustCompile(`^GIT binary patch$`)
	binaryPatchHeader = regexp.MustCompile(`^index `)
	binaryFilesDiffer = regexp.MustCompile(`^Binary files .* and .* differ$`)
	gitDiffLine       = regexp.MustCompile(`^diff --git `)
	filePathLine      = regexp.MustCompile(`^diff --git a/(.*?) b/(.*?)$`)
)

// FilterBinaryHunks strips binary sections from a unified diff. Binary
// payloads cannot be applied from submission text, and git refuses the whole
// patch when they are present.
func FilterBinaryHunks(patch string) string {
	lines := strings.SplitAfter(patch, "\n")

	var filtered []string
	inBinary := false

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSuffix(lines[i], "\n")
		switch {
		case binaryPatchStart.MatchString(line):
			inBinary = true
			continue
		case binaryPatchHeader.MatchString(line):
			continue
		case binaryFilesDiffer.MatchString(line):
			inBinary = false
			continue
		}

		// A "diff --git" header two lines before "Binary files ... differ"
		// introduces a binary file diff; skip all three lines.
		if gitDiffLine.MatchString(line) && i+2 < len(lines) &&
			binaryFilesDiffer.MatchString(strings.TrimSuffix(lines[i+2], "\n")) {
			i += 2
			continue
		}

		if !inBinary {
			filtered = append(filtered, lines[i])
		}
	}

	return strings.Join(filtered, "")
}

// ModifiedFiles lists the files a diff changes beyond whitespace.
func ModifiedFiles(patch string) []string {
	var modified []string
	current := ""
	significant := false

	for _, line := range strings.Split(patch, "\n") {
		if m := filePathLine.FindStringSubmatch(line); m != nil {
			if current != "" && significant {
				modified = append(modified, current)
			}
			current = m[1]
			significant = false
			continue
		}
		if isChangeLine(line) && strings.TrimSpace(line[1:]) != "" {
			significant = true
		}
	}
	if current != "" && significant {
		modified = append(modified, current)
	}

	return modified
}

func isChangeLine(line string) bool {
	if strings.HasPrefix(line, "+") {
		return !strings.HasPrefix(line, "+++")
	}
	if strings.HasPrefix(line, "-") {
		return !strings.HasPrefix(line, "---")
	}
	return false
}

