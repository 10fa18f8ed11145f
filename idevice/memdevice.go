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

package idevice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

// MemDevice simulates a paired device. Its filesystem view is an afero.Fs
// and its installation listing is a static entry list. It counts service
// channel opens and closes, so tests can check resource symmetry.
type MemDevice struct {
	Serial string
	FS     afero.Fs
	Apps   []AppEntry

	// Failure injection.
	HandshakeErr   error
	UDIDErr        error
	FileServiceErr error
	InstallErr     error
	ReadErrs       map[string]error // remote path -> error after the first chunk

	mu             sync.Mutex
	openedServices int
	closedServices int
	connCloses     int
}

// NewMemDevice creates a simulated device with an empty filesystem.
func NewMemDevice(serial string) *MemDevice {
	return &MemDevice{Serial: serial, FS: afero.NewMemMapFs()}
}

// OpenServices returns the number of currently open service channels.
func (d *MemDevice) OpenServices() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openedServices - d.closedServices
}

// ConnCloses returns how often the device connection was closed.
func (d *MemDevice) ConnCloses() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connCloses
}

func (d *MemDevice) serviceOpened() {
	d.mu.Lock()
	d.openedServices++
	d.mu.Unlock()
}

func (d *MemDevice) serviceClosed() {
	d.mu.Lock()
	d.closedServices++
	d.mu.Unlock()
}

// MemDriver connects to a single MemDevice.
type MemDriver struct {
	Device     *MemDevice
	ConnectErr error
}

func (m *MemDriver) Connect(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.ConnectErr != nil {
		return nil, m.ConnectErr
	}
	if m.Device == nil {
		return nil, errors.New("no device attached")
	}
	return &memConn{device: m.Device}, nil
}

type memConn struct {
	device *MemDevice
}

func (c *memConn) Handshake(ctx context.Context, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.device.HandshakeErr
}

func (c *memConn) UDID(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.device.UDIDErr != nil {
		return "", c.device.UDIDErr
	}
	return c.device.Serial, nil
}

func (c *memConn) FileService(ctx context.Context) (FileService, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.device.FileServiceErr != nil {
		return nil, c.device.FileServiceErr
	}
	c.device.serviceOpened()
	return &memFileService{device: c.device}, nil
}

func (c *memConn) InstallationService(ctx context.Context) (InstallationService, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.device.InstallErr != nil {
		return nil, c.device.InstallErr
	}
	c.device.serviceOpened()
	return &memInstallService{device: c.device}, nil
}

func (c *memConn) Close() error {
	c.device.mu.Lock()
	c.device.connCloses++
	c.device.mu.Unlock()
	return nil
}

type memFileService struct {
	device *MemDevice
	closed bool
}

func (s *memFileService) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed {
		return nil, ErrSessionClosed
	}
	data, err := afero.ReadFile(s.device.FS, path)
	if err != nil {
		return nil, err
	}
	if readErr, ok := s.device.ReadErrs[path]; ok {
		return &failingReader{data: data, err: readErr}, nil
	}
	return ioutil.NopCloser(bytes.NewReader(data)), nil
}

func (s *memFileService) Stat(ctx context.Context, path string) (*FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fi, err := s.device.FS.Stat(path)
	if err != nil {
		return nil, err
	}
	return &FileInfo{Path: path, Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

func (s *memFileService) List(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(s.device.FS, dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

func (s *memFileService) ContentDigest(ctx context.Context, path string) (string, error) {
	data, err := afero.ReadFile(s.device.FS, path)
	if err != nil {
		return "", err
	}
	hasher := blake3.New()
	_, _ = hasher.Write(data)
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

func (s *memFileService) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.device.serviceClosed()
	return nil
}

type memInstallService struct {
	device *MemDevice
	closed bool
}

func (s *memInstallService) Browse(ctx context.Context, opts BrowseOptions) ([]AppEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed {
		return nil, ErrSessionClosed
	}
	entries := make([]AppEntry, len(s.device.Apps))
	copy(entries, s.device.Apps)
	return entries, nil
}

func (s *memInstallService) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.device.serviceClosed()
	return nil
}

// failingReader serves one chunk and then fails, to simulate a device
// disconnect mid transfer.
type failingReader struct {
	data []byte
	err  error
	read bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.read {
		return 0, r.err
	}
	r.read = true
	n := copy(p, r.data)
	return n, nil
}

func (r *failingReader) Close() error { return nil }
