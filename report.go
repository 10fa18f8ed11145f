// Copyright (c) 2020 Siemens AG
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
//
// Author(s): Jonas Plum

package idevicextract

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/structs"
	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Artifact describes one file produced by an extraction step. The report
// lists these descriptions verbatim, it never inspects the files themselves.
type Artifact struct {
	Name    string
	Path    string
	Sealed  bool
	Records int
	// Digest is the BLAKE3 digest of the acquired source data, if the
	// artifact was derived from a device file copy.
	Digest string
	// Cipher parameters of sealed artifacts. Salt and IV are hex encoded
	// and not secret; KeyRef names where the key material comes from.
	KeyRef string
	Salt   string
	IV     string
}

// Run collects everything the manifest reports about one extraction run.
type Run struct {
	ID        string
	UDID      string
	Started   time.Time
	Artifacts []Artifact
}

// WriteReport writes the flat text manifest of an extraction run. Only
// artifacts present in the run are listed, so failed extraction steps never
// show up as produced output.
func WriteReport(fs afero.Fs, path string, run Run) error {
	var b strings.Builder
	title := "Forensic Extraction Report"
	b.WriteString(title + "\n")
	b.WriteString(strings.Repeat("=", len(title)) + "\n\n")
	fmt.Fprintf(&b, "Report generated on: %s\n", run.Started.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Run ID: %s\n", run.ID)
	fmt.Fprintf(&b, "Device UDID: %s\n\n", run.UDID)

	b.WriteString("Extracted artifacts:\n")
	if len(run.Artifacts) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, artifact := range run.Artifacts {
		fmt.Fprintf(&b, "  - %s\n", artifact.Name)
		fields := structs.Map(artifact)
		delete(fields, "Name")
		var keys []string
		for key := range fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			value := fmt.Sprint(fields[key])
			if value == "" {
				continue
			}
			fmt.Fprintf(&b, "      %s: %s\n", strcase.ToSnake(key), value)
		}
	}

	err := afero.WriteFile(fs, path, []byte(b.String()), 0644)
	return errors.Wrap(err, "could not write report")
}
