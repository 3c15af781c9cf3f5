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

package runner

import (
	"fmt"
	"strings"
)

// InsertSecret plants a printed sentinel immediately before the test
// script's own exit call. A submission that exits the interpreter early to
// fake a green run never prints the sentinel, so the run is rejected.
// Reports whether an injection point was found.
func InsertSecret(testScript, secret string) (string, bool) {
	lines := strings.Split(testScript, "\n")
	for i, line := range lines {
		if !strings.Contains(line, "sys.exit(0)") && !strings.Contains(line, "sys.exit(exit_code)") {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		stmt := indent + fmt.Sprintf("print(%q)", secret)

		injected := make([]string, 0, len(lines)+1)
		injected = append(injected, lines[:i]...)
		injected = append(injected, stmt)
		injected = append(injected, lines[i:]...)
		return strings.Join(injected, "\n"), true
	}
	return testScript, false
}
