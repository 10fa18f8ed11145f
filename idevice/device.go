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

// Package idevice provides the device session used during an extraction.
// The low level service protocol (pairing, service discovery, framing) is
// consumed through the Driver and Conn interfaces; the usbmux subpackage
// contains the production implementation and MemDriver an in-memory one.
package idevice

import (
	"context"
	"io"
	"time"
)

// Driver discovers and connects to a single device.
type Driver interface {
	Connect(ctx context.Context) (Conn, error)
}

// Conn is an established connection to exactly one physical device. It is
// opaque to the rest of the pipeline; all access goes through a Session.
type Conn interface {
	// Handshake performs the pairing validation that authorizes this host.
	Handshake(ctx context.Context, label string) error
	// UDID returns the unique identifier of the connected device.
	UDID(ctx context.Context) (string, error)
	// FileService opens the file transfer service channel.
	FileService(ctx context.Context) (FileService, error)
	// InstallationService opens the installation listing service channel.
	InstallationService(ctx context.Context) (InstallationService, error)
	Close() error
}

// FileInfo describes a file inside the device's exposed filesystem namespace.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// FileService is the file transfer service channel of a device connection.
type FileService interface {
	// Open opens a remote file for reading.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// Stat returns metadata for a remote file.
	Stat(ctx context.Context, path string) (*FileInfo, error)
	// List returns the entry names of a remote directory.
	List(ctx context.Context, dir string) ([]string, error)
	Close() error
}

// ContentDigester is optionally implemented by file services that can report
// a BLAKE3 digest for a remote file. Fetch uses it to verify copies.
type ContentDigester interface {
	ContentDigest(ctx context.Context, path string) (string, error)
}

// AppEntry is a single application metadata dictionary returned by the
// installation listing service, encoded as JSON.
type AppEntry []byte

// BrowseOptions restrict an installation listing request.
type BrowseOptions struct {
	// ApplicationType filters by application class, e.g. "User" or "System".
	// Filtering happens in the request, not on the returned entries.
	ApplicationType string
}

// InstallationService is the installation listing service channel.
type InstallationService interface {
	Browse(ctx context.Context, opts BrowseOptions) ([]AppEntry, error)
	Close() error
}
