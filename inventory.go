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
	"context"
	"encoding/csv"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/tidwall/gjson"

	"github.com/forensicanalysis/idevicextract/idevice"
)

const (
	appNameKey  = "CFBundleName"
	bundleIDKey = "CFBundleIdentifier"
	versionKey  = "CFBundleVersion"
)

var inventoryHeader = []string{"App Name", "Bundle ID", "Version"}

// AppRecord is one installed application entry.
type AppRecord struct {
	Name     string
	BundleID string
	Version  string
}

// ExtractInventory enumerates user installed applications and writes them to
// a CSV file. System applications are excluded by the request filter. Entries
// missing a name, bundle identifier or version are dropped entirely, so the
// export only contains complete rows.
func ExtractInventory(ctx context.Context, session *idevice.Session, fs afero.Fs, outputPath string) (*Artifact, error) {
	install, err := session.Installation(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := install.Browse(ctx, idevice.BrowseOptions{ApplicationType: "User"})
	if err != nil {
		return nil, errors.Wrap(err, "could not browse installed applications")
	}

	records := appRecords(entries)
	if err := writeInventoryCSV(fs, outputPath, records); err != nil {
		return nil, err
	}

	return &Artifact{
		Name:    "installed apps",
		Path:    outputPath,
		Records: len(records),
	}, nil
}

// appRecords keeps entries that carry all three required fields, in their
// original order.
func appRecords(entries []idevice.AppEntry) []AppRecord {
	var records []AppRecord
	for _, entry := range entries {
		name := gjson.GetBytes(entry, appNameKey)
		bundleID := gjson.GetBytes(entry, bundleIDKey)
		version := gjson.GetBytes(entry, versionKey)
		if !name.Exists() || !bundleID.Exists() || !version.Exists() {
			continue
		}
		records = append(records, AppRecord{
			Name:     name.String(),
			BundleID: bundleID.String(),
			Version:  version.String(),
		})
	}
	return records
}

func writeInventoryCSV(fs afero.Fs, path string, records []AppRecord) error {
	f, err := fs.Create(path)
	if err != nil {
		return errors.Wrap(err, "could not create inventory export")
	}

	w := csv.NewWriter(f)
	err = w.Write(inventoryHeader)
	for _, record := range records {
		if err != nil {
			break
		}
		err = w.Write([]string{record.Name, record.BundleID, record.Version})
	}
	if err == nil {
		w.Flush()
		err = w.Error()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
