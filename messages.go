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
	"encoding/hex"
	"os"
	"path/filepath"

	"crawshaw.io/sqlite"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/forensicanalysis/idevicextract/idevice"
	"github.com/forensicanalysis/idevicextract/seal"
)

// MessageStorePath is the message store inside the device's exposed
// filesystem namespace.
const MessageStorePath = "/var/mobile/Library/SMS/sms.db"

// messageQuery pairs each message with its sender. Messages without a
// resolvable sender still appear with an empty phone number, most recent
// message first.
const messageQuery = `SELECT datetime(message.date, 'unixepoch') AS date, ` +
	`handle.id AS phone_number, message.text AS text ` +
	`FROM message LEFT JOIN handle ON message.handle_id = handle.ROWID ` +
	`ORDER BY message.date DESC`

var messageHeader = []string{"Date", "Phone Number", "Message"}

// MessageRecord is one extracted message. Sender and Body are empty strings
// when the store holds no value.
type MessageRecord struct {
	Date   string
	Sender string
	Body   string
}

// ExtractMessages copies the message store from the device, exports all
// messages to a CSV file and seals it to outputPath + ".enc". The plaintext
// export is deleted only after a successful seal; a failed seal leaves it in
// place. The returned artifact references the sealed file.
func ExtractMessages(ctx context.Context, session *idevice.Session, fs afero.Fs, scratchDir, outputPath, passphrase string) (*Artifact, error) {
	// The copy is named after the device identifier so runs against
	// different devices do not collide.
	localStore := filepath.Join(scratchDir, session.UDID()+"_sms.db")
	info, err := idevice.Fetch(ctx, session.Files(), afero.NewOsFs(), MessageStorePath, localStore)
	if err != nil {
		return nil, errors.Wrap(err, "could not copy message store")
	}
	defer os.Remove(localStore) // nolint:errcheck

	records, err := queryMessages(localStore)
	if err != nil {
		return nil, err
	}

	if err := writeMessageCSV(fs, outputPath, records); err != nil {
		return nil, err
	}

	sealedPath := outputPath + ".enc"
	params, err := seal.Seal(fs, outputPath, sealedPath, passphrase)
	if err != nil {
		return nil, errors.Wrap(err, "could not seal message export")
	}
	if err := fs.Remove(outputPath); err != nil {
		return nil, errors.Wrap(err, "could not delete plaintext export")
	}

	return &Artifact{
		Name:    "sms messages",
		Path:    sealedPath,
		Sealed:  true,
		Records: len(records),
		Digest:  info.BLAKE3,
		Salt:    hex.EncodeToString(params.Salt),
		IV:      hex.EncodeToString(params.IV),
	}, nil
}

// queryMessages opens a copied message store and returns all messages in
// descending time order.
func queryMessages(storePath string) ([]MessageRecord, error) {
	conn, err := sqlite.OpenConn(storePath, 0)
	if err != nil {
		return nil, errors.Wrap(err, "could not open message store")
	}
	defer conn.Close() // nolint:errcheck

	stmt, err := conn.Prepare(messageQuery)
	if err != nil {
		return nil, errors.Wrap(err, "could not prepare message query")
	}

	var records []MessageRecord
	for {
		if hasRow, err := stmt.Step(); err != nil {
			return nil, err
		} else if !hasRow {
			break
		}
		records = append(records, MessageRecord{
			Date:   stmt.GetText("date"),
			Sender: stmt.GetText("phone_number"),
			Body:   stmt.GetText("text"),
		})
	}
	return records, stmt.Finalize()
}

func writeMessageCSV(fs afero.Fs, path string, records []MessageRecord) error {
	f, err := fs.Create(path)
	if err != nil {
		return errors.Wrap(err, "could not create message export")
	}

	w := csv.NewWriter(f)
	err = w.Write(messageHeader)
	for _, record := range records {
		if err != nil {
			break
		}
		err = w.Write([]string{record.Date, record.Sender, record.Body})
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
