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

// Package usbmux talks to a USB connected device through the usbmuxd daemon.
// It implements the idevice.Driver interface on top of the muxer protocol,
// the lockdown handshake, the AFC file transfer service and the installation
// proxy. The wire format of all of these is property lists.
package usbmux

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"

	"github.com/pkg/errors"
	"howett.net/plist"
)

// DefaultSocket is the usbmuxd unix socket on Linux and macOS.
const DefaultSocket = "/var/run/usbmuxd"

const (
	muxHeaderSize   = 16
	muxVersion      = 1
	muxRequestPlist = 8
	muxResultOK     = 0
)

var ErrNoDevice = errors.New("no device attached")

// muxConn is a connection to the usbmuxd control socket. After a successful
// Connect message the underlying socket becomes a raw tunnel to the device.
type muxConn struct {
	conn net.Conn
	tag  uint32
}

func dialMux(ctx context.Context, socket string) (*muxConn, error) {
	if socket == "" {
		socket = DefaultSocket
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", socket)
	if err != nil {
		return nil, errors.Wrap(err, "could not reach usbmuxd")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	return &muxConn{conn: conn}, nil
}

func (m *muxConn) send(msg interface{}) error {
	payload, err := plist.Marshal(msg, plist.XMLFormat)
	if err != nil {
		return err
	}
	m.tag++
	header := make([]byte, muxHeaderSize)
	binary.LittleEndian.PutUint32(header[0:], uint32(muxHeaderSize+len(payload)))
	binary.LittleEndian.PutUint32(header[4:], muxVersion)
	binary.LittleEndian.PutUint32(header[8:], muxRequestPlist)
	binary.LittleEndian.PutUint32(header[12:], m.tag)
	if _, err := m.conn.Write(header); err != nil {
		return err
	}
	_, err = m.conn.Write(payload)
	return err
}

func (m *muxConn) receive(v interface{}) error {
	header := make([]byte, muxHeaderSize)
	if _, err := io.ReadFull(m.conn, header); err != nil {
		return err
	}
	length := binary.LittleEndian.Uint32(header[0:])
	if length < muxHeaderSize {
		return errors.Errorf("invalid muxer packet length %d", length)
	}
	payload := make([]byte, length-muxHeaderSize)
	if _, err := io.ReadFull(m.conn, payload); err != nil {
		return err
	}
	_, err := plist.Unmarshal(payload, v)
	return err
}

func (m *muxConn) Close() error {
	return m.conn.Close()
}

type deviceEntry struct {
	DeviceID   int `plist:"DeviceID"`
	Properties struct {
		SerialNumber   string `plist:"SerialNumber"`
		ConnectionType string `plist:"ConnectionType"`
	} `plist:"Properties"`
}

// listDevices returns all devices currently known to usbmuxd.
func (m *muxConn) listDevices(label string) ([]deviceEntry, error) {
	err := m.send(map[string]interface{}{
		"MessageType":         "ListDevices",
		"ProgName":            label,
		"ClientVersionString": clientVersion,
	})
	if err != nil {
		return nil, err
	}
	var resp struct {
		DeviceList []deviceEntry `plist:"DeviceList"`
	}
	if err := m.receive(&resp); err != nil {
		return nil, err
	}
	return resp.DeviceList, nil
}

// connect tunnels the muxer socket to a TCP port on the device. The port is
// sent in network byte order, as the muxer protocol requires.
func (m *muxConn) connect(deviceID, port int, label string) error {
	err := m.send(map[string]interface{}{
		"MessageType":         "Connect",
		"DeviceID":            deviceID,
		"PortNumber":          ((port << 8) | (port >> 8)) & 0xffff,
		"ProgName":            label,
		"ClientVersionString": clientVersion,
	})
	if err != nil {
		return err
	}
	var resp struct {
		MessageType string `plist:"MessageType"`
		Number      int    `plist:"Number"`
	}
	if err := m.receive(&resp); err != nil {
		return err
	}
	if resp.Number != muxResultOK {
		return errors.Errorf("usbmuxd connect failed with result %d", resp.Number)
	}
	return nil
}

// pairRecord is the host side of a completed pairing, stored by usbmuxd.
type pairRecord struct {
	HostID          string `plist:"HostID"`
	SystemBUID      string `plist:"SystemBUID"`
	HostCertificate []byte `plist:"HostCertificate"`
	HostPrivateKey  []byte `plist:"HostPrivateKey"`
	RootCertificate []byte `plist:"RootCertificate"`
}

func (m *muxConn) readPairRecord(udid string) (*pairRecord, error) {
	err := m.send(map[string]interface{}{
		"MessageType":  "ReadPairRecord",
		"PairRecordID": udid,
	})
	if err != nil {
		return nil, err
	}
	var resp struct {
		PairRecordData []byte `plist:"PairRecordData"`
	}
	if err := m.receive(&resp); err != nil {
		return nil, err
	}
	if len(resp.PairRecordData) == 0 {
		return nil, errors.Errorf("device %s is not paired with this host", udid)
	}
	record := &pairRecord{}
	if _, err := plist.Unmarshal(resp.PairRecordData, record); err != nil {
		return nil, errors.Wrap(err, "could not parse pair record")
	}
	return record, nil
}

const clientVersion = "idevicextract"

// splitNUL splits a NUL separated list from an AFC or file info payload.
func splitNUL(payload []byte) []string {
	var parts []string
	for _, part := range bytes.Split(payload, []byte{0}) {
		if len(part) > 0 {
			parts = append(parts, string(part))
		}
	}
	return parts
}
