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
	"crypto/tls"
	"encoding/binary"
	"io"
	"net"

	"github.com/pkg/errors"
	"howett.net/plist"
)

// lockdownPort is the TCP port of the lockdown daemon on the device.
const lockdownPort = 62078

// plistConn sends and receives length prefixed property lists. The lockdown
// daemon and most device services use this framing.
type plistConn struct {
	conn net.Conn
}

func (p *plistConn) send(msg interface{}) error {
	payload, err := plist.Marshal(msg, plist.XMLFormat)
	if err != nil {
		return err
	}
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(payload)))
	if _, err := p.conn.Write(length); err != nil {
		return err
	}
	_, err = p.conn.Write(payload)
	return err
}

func (p *plistConn) receive(v interface{}) error {
	length := make([]byte, 4)
	if _, err := io.ReadFull(p.conn, length); err != nil {
		return err
	}
	payload := make([]byte, binary.BigEndian.Uint32(length))
	if _, err := io.ReadFull(p.conn, payload); err != nil {
		return err
	}
	_, err := plist.Unmarshal(payload, v)
	return err
}

// startTLS upgrades the connection using the host identity from the pairing.
// The device presents a self signed certificate, so verification is skipped.
func (p *plistConn) startTLS(record *pairRecord) error {
	cert, err := tls.X509KeyPair(record.HostCertificate, record.HostPrivateKey)
	if err != nil {
		return errors.Wrap(err, "could not load host identity")
	}
	tlsConn := tls.Client(p.conn, &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true, // #nosec
		MinVersion:         tls.VersionTLS11,
	})
	if err := tlsConn.Handshake(); err != nil {
		return errors.Wrap(err, "session ssl handshake failed")
	}
	p.conn = tlsConn
	return nil
}

func (p *plistConn) Close() error {
	return p.conn.Close()
}

// lockdownClient is a session with the lockdown daemon.
type lockdownClient struct {
	plistConn
	label  string
	record *pairRecord
}

type lockdownResponse struct {
	Request          string `plist:"Request"`
	Error            string `plist:"Error"`
	Type             string `plist:"Type"`
	SessionID        string `plist:"SessionID"`
	EnableSessionSSL bool   `plist:"EnableSessionSSL"`
	Port             int    `plist:"Port"`
	EnableServiceSSL bool   `plist:"EnableServiceSSL"`
	Value            string `plist:"Value"`
}

func (c *lockdownClient) request(msg map[string]interface{}) (*lockdownResponse, error) {
	msg["Label"] = c.label
	if err := c.send(msg); err != nil {
		return nil, err
	}
	resp := &lockdownResponse{}
	if err := c.receive(resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.Errorf("lockdown request %s failed: %s", msg["Request"], resp.Error)
	}
	return resp, nil
}

// handshake validates that this host may talk to the device and switches the
// connection to session ssl if the device demands it.
func (c *lockdownClient) handshake(record *pairRecord) error {
	if _, err := c.request(map[string]interface{}{"Request": "QueryType"}); err != nil {
		return err
	}

	resp, err := c.request(map[string]interface{}{
		"Request":    "StartSession",
		"HostID":     record.HostID,
		"SystemBUID": record.SystemBUID,
	})
	if err != nil {
		return err
	}
	if resp.EnableSessionSSL {
		if err := c.startTLS(record); err != nil {
			return err
		}
	}
	c.record = record
	return nil
}

// getValue queries a single device property, e.g. UniqueDeviceID.
func (c *lockdownClient) getValue(key string) (string, error) {
	resp, err := c.request(map[string]interface{}{
		"Request": "GetValue",
		"Key":     key,
	})
	if err != nil {
		return "", err
	}
	return resp.Value, nil
}

// startService asks lockdown to launch a service and returns its port and
// whether the service connection must use ssl.
func (c *lockdownClient) startService(name string) (port int, ssl bool, err error) {
	resp, err := c.request(map[string]interface{}{
		"Request": "StartService",
		"Service": name,
	})
	if err != nil {
		return 0, false, err
	}
	if resp.Port == 0 {
		return 0, false, errors.Errorf("service %s is not available", name)
	}
	return resp.Port, resp.EnableServiceSSL, nil
}
