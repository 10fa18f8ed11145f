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

package usbmux

import (
	"context"

	"github.com/pkg/errors"

	"github.com/forensicanalysis/idevicextract/idevice"
)

// Driver connects to the single USB device known to usbmuxd.
type Driver struct {
	// Socket is the usbmuxd socket path, DefaultSocket when empty.
	Socket string
}

// Connect discovers the attached device. Exactly one device must be
// reachable; attaching several is not supported.
func (d *Driver) Connect(ctx context.Context) (idevice.Conn, error) {
	mux, err := dialMux(ctx, d.Socket)
	if err != nil {
		return nil, err
	}
	defer mux.Close()

	devices, err := mux.listDevices(clientVersion)
	if err != nil {
		return nil, errors.Wrap(err, "could not list devices")
	}
	if len(devices) == 0 {
		return nil, ErrNoDevice
	}
	if len(devices) > 1 {
		return nil, errors.Errorf("%d devices attached, expected one", len(devices))
	}

	return &deviceConn{
		socket:   d.Socket,
		deviceID: devices[0].DeviceID,
		serial:   devices[0].Properties.SerialNumber,
	}, nil
}

// deviceConn is a connection to one muxed device. Service channels are
// tunneled through separate muxer sockets.
type deviceConn struct {
	socket   string
	deviceID int
	serial   string
	label    string
	record   *pairRecord
	lockdown *lockdownClient
}

// dialService opens a tunnel to a TCP port on the device.
func (c *deviceConn) dialService(ctx context.Context, port int) (*muxConn, error) {
	mux, err := dialMux(ctx, c.socket)
	if err != nil {
		return nil, err
	}
	if err := mux.connect(c.deviceID, port, c.label); err != nil {
		_ = mux.Close()
		return nil, err
	}
	return mux, nil
}

func (c *deviceConn) Handshake(ctx context.Context, label string) error {
	c.label = label

	mux, err := dialMux(ctx, c.socket)
	if err != nil {
		return err
	}
	record, err := mux.readPairRecord(c.serial)
	_ = mux.Close()
	if err != nil {
		return err
	}
	c.record = record

	tunnel, err := c.dialService(ctx, lockdownPort)
	if err != nil {
		return errors.Wrap(err, "could not reach lockdown")
	}
	lockdown := &lockdownClient{plistConn: plistConn{conn: tunnel.conn}, label: label}
	if err := lockdown.handshake(record); err != nil {
		_ = lockdown.Close()
		return err
	}
	c.lockdown = lockdown
	return nil
}

func (c *deviceConn) UDID(ctx context.Context) (string, error) {
	if c.lockdown == nil {
		return "", errors.New("handshake has not run")
	}
	udid, err := c.lockdown.getValue("UniqueDeviceID")
	if err != nil {
		return "", err
	}
	if udid == "" {
		udid = c.serial
	}
	return udid, nil
}

// startService launches a lockdown service and returns a ready connection,
// with service ssl applied when the device requires it.
func (c *deviceConn) startService(ctx context.Context, name string) (*plistConn, error) {
	if c.lockdown == nil {
		return nil, errors.New("handshake has not run")
	}
	port, ssl, err := c.lockdown.startService(name)
	if err != nil {
		return nil, err
	}
	tunnel, err := c.dialService(ctx, port)
	if err != nil {
		return nil, errors.Wrapf(err, "could not reach service %s", name)
	}
	service := &plistConn{conn: tunnel.conn}
	if ssl {
		if err := service.startTLS(c.record); err != nil {
			_ = service.Close()
			return nil, err
		}
	}
	return service, nil
}

func (c *deviceConn) FileService(ctx context.Context) (idevice.FileService, error) {
	service, err := c.startService(ctx, AFCServiceName)
	if err != nil {
		return nil, err
	}
	return &afcClient{conn: service.conn}, nil
}

func (c *deviceConn) InstallationService(ctx context.Context) (idevice.InstallationService, error) {
	service, err := c.startService(ctx, InstallationProxyServiceName)
	if err != nil {
		return nil, err
	}
	return &instproxyClient{plistConn: *service}, nil
}

func (c *deviceConn) Close() error {
	if c.lockdown == nil {
		return nil
	}
	err := c.lockdown.Close()
	c.lockdown = nil
	return err
}
