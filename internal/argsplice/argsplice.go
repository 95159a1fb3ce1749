/*
This file is part of btrbak.

Btrbak is free software: you can redistribute it and/or modify it under the terms of the
GNU Lesser General Public License as published by the Free Software Foundation, either
version 3 of the License, or (at your option) any later version.

Btrbak is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
See the GNU Lesser General Public License for more details.

You should have received a copy of the GNU Lesser General Public License along with btrbak.
If not, see <https://www.gnu.org/licenses/>.
*/

// Package argsplice implements "@file" argument inclusion: before cobra or
// pflag ever see os.Args, any argument beginning with "@" is replaced in
// place by the non-blank, non-comment lines of the named file, recursively.
package argsplice

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxDepth guards against an @file including itself, directly or through a
// cycle of other files.
const maxDepth = 16

// Expand walks args and replaces every "@FILE" entry with the lines of FILE,
// recursively. Lines that are blank after trimming, or begin with "#", are
// dropped. Leading/trailing whitespace on each line is stripped.
func Expand(args []string) ([]string, error) {
	return expand(args, nil, 0)
}

func expand(args []string, stack []string, depth int) ([]string, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("argsplice: @file nesting exceeds %d levels, likely a cycle: %s", maxDepth, strings.Join(stack, " -> "))
	}
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if !strings.HasPrefix(arg, "@") {
			out = append(out, arg)
			continue
		}
		path := strings.TrimPrefix(arg, "@")
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("argsplice: resolving %q: %w", path, err)
		}
		for _, seen := range stack {
			if seen == abs {
				return nil, fmt.Errorf("argsplice: cycle detected including %q: %s -> %s", path, strings.Join(stack, " -> "), abs)
			}
		}

		lines, err := readLines(abs)
		if err != nil {
			return nil, fmt.Errorf("argsplice: reading %q: %w", path, err)
		}
		expanded, err := expand(lines, append(stack, abs), depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
