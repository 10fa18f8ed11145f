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
	"context"
	"io"

	"github.com/pkg/errors"
)

var ErrSessionClosed = errors.New("session is closed")

// A Session is an authenticated channel to exactly one physical device. It is
// created by Open, owned by a single caller and never shared between
// goroutines. Service channels opened through the session are released in
// reverse acquisition order when the session closes, even if the caller never
// closed them explicitly.
type Session struct {
	conn     Conn
	udid     string
	files    FileService
	install  InstallationService
	services []io.Closer
	closed   bool
}

// Open discovers a device, validates the pairing, retrieves the device
// identifier and opens the file transfer service. If any step fails, all
// previously acquired resources are released before the error is returned.
func Open(ctx context.Context, driver Driver, label string) (*Session, error) {
	conn, err := driver.Connect(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "unable to connect to device")
	}

	if err := conn.Handshake(ctx, label); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "handshake failed")
	}

	udid, err := conn.UDID(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "could not get device identifier")
	}

	files, err := conn.FileService(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "could not start file service")
	}

	session := &Session{conn: conn, udid: udid, files: files}
	session.services = append(session.services, files)
	return session, nil
}

// UDID returns the unique identifier of the connected device.
func (s *Session) UDID() string {
	return s.udid
}

// Files returns the file transfer service opened by Open.
func (s *Session) Files() FileService {
	return s.files
}

// Installation returns the installation listing service. The service is
// opened on first use and released when the session closes.
func (s *Session) Installation(ctx context.Context) (InstallationService, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.install != nil {
		return s.install, nil
	}

	install, err := s.conn.InstallationService(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not start installation service")
	}
	s.install = install
	s.services = append(s.services, install)
	return install, nil
}

// Close releases every open service channel in reverse acquisition order and
// then the device connection. Close is idempotent and safe to call on a
// partially initialized session.
func (s *Session) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for i := len(s.services) - 1; i >= 0; i-- {
		if s.services[i] == nil {
			continue
		}
		if err := s.services[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.services = nil
	s.files = nil
	s.install = nil

	if s.conn != nil {
		if err := s.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.conn = nil
	}
	s.udid = ""
	return firstErr
}
