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
	"encoding/binary"
	"io"
	"net"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"howett.net/plist"
)

// muxServe answers one plist message on the muxer framing.
func muxServe(t *testing.T, conn net.Conn, handle func(msg map[string]interface{}) interface{}) {
	t.Helper()
	header := make([]byte, muxHeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		t.Errorf("read muxer header: %v", err)
		return
	}
	payload := make([]byte, binary.LittleEndian.Uint32(header)-muxHeaderSize)
	if _, err := io.ReadFull(conn, payload); err != nil {
		t.Errorf("read muxer payload: %v", err)
		return
	}
	var msg map[string]interface{}
	if _, err := plist.Unmarshal(payload, &msg); err != nil {
		t.Errorf("parse muxer payload: %v", err)
		return
	}

	resp, err := plist.Marshal(handle(msg), plist.XMLFormat)
	if err != nil {
		t.Errorf("marshal muxer response: %v", err)
		return
	}
	binary.LittleEndian.PutUint32(header, uint32(muxHeaderSize+len(resp)))
	conn.Write(header)  // nolint:errcheck
	conn.Write(resp)    // nolint:errcheck
}

func TestMuxListDevices(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	go muxServe(t, server, func(msg map[string]interface{}) interface{} {
		assert.Equal(t, "ListDevices", msg["MessageType"])
		assert.Equal(t, "test", msg["ProgName"])
		return map[string]interface{}{
			"DeviceList": []interface{}{
				map[string]interface{}{
					"DeviceID": 3,
					"Properties": map[string]interface{}{
						"SerialNumber":   "abcdef123456",
						"ConnectionType": "USB",
					},
				},
			},
		}
	})

	m := &muxConn{conn: client}
	devices, err := m.listDevices("test")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, 3, devices[0].DeviceID)
	assert.Equal(t, "abcdef123456", devices[0].Properties.SerialNumber)
	assert.Equal(t, "USB", devices[0].Properties.ConnectionType)
}

func TestMuxConnect(t *testing.T) {
	tests := []struct {
		name    string
		result  int
		wantErr bool
	}{
		{"ok", 0, false},
		{"refused", 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, server := net.Pipe()
			defer client.Close()
			go muxServe(t, server, func(msg map[string]interface{}) interface{} {
				assert.Equal(t, "Connect", msg["MessageType"])
				// the lockdown port 62078 byte swapped for the wire
				assert.EqualValues(t, 32498, msg["PortNumber"])
				return map[string]interface{}{"MessageType": "Result", "Number": tt.result}
			})

			m := &muxConn{conn: client}
			err := m.connect(3, lockdownPort, "test")
			if (err != nil) != tt.wantErr {
				t.Errorf("connect() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMuxReadPairRecordUnpaired(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	go muxServe(t, server, func(msg map[string]interface{}) interface{} {
		assert.Equal(t, "ReadPairRecord", msg["MessageType"])
		assert.Equal(t, "abcdef123456", msg["PairRecordID"])
		return map[string]interface{}{"MessageType": "Result", "Number": 2}
	})

	m := &muxConn{conn: client}
	_, err := m.readPairRecord("abcdef123456")
	assert.EqualError(t, err, "device abcdef123456 is not paired with this host")
}

func TestMuxReadPairRecord(t *testing.T) {
	record, err := plist.Marshal(map[string]interface{}{
		"HostID":     "host-1",
		"SystemBUID": "buid-1",
	}, plist.XMLFormat)
	require.NoError(t, err)

	client, server := net.Pipe()
	defer client.Close()
	go muxServe(t, server, func(msg map[string]interface{}) interface{} {
		return map[string]interface{}{"PairRecordData": record}
	})

	m := &muxConn{conn: client}
	got, err := m.readPairRecord("abcdef123456")
	require.NoError(t, err)
	assert.Equal(t, "host-1", got.HostID)
	assert.Equal(t, "buid-1", got.SystemBUID)
}

// lockdownServe answers plist messages on the length prefixed lockdown framing.
func lockdownServe(t *testing.T, conn net.Conn, handle func(msg map[string]interface{}) interface{}) {
	t.Helper()
	p := &plistConn{conn: conn}
	for {
		var msg map[string]interface{}
		if err := p.receive(&msg); err != nil {
			return
		}
		if err := p.send(handle(msg)); err != nil {
			t.Errorf("send lockdown response: %v", err)
			return
		}
	}
}

func TestLockdownGetValue(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	go lockdownServe(t, server, func(msg map[string]interface{}) interface{} {
		assert.Equal(t, "GetValue", msg["Request"])
		assert.Equal(t, "test", msg["Label"])
		assert.Equal(t, "UniqueDeviceID", msg["Key"])
		return map[string]interface{}{"Request": "GetValue", "Value": "abcdef123456"}
	})

	c := &lockdownClient{plistConn: plistConn{conn: client}, label: "test"}
	value, err := c.getValue("UniqueDeviceID")
	require.NoError(t, err)
	assert.Equal(t, "abcdef123456", value)
}

func TestLockdownStartService(t *testing.T) {
	tests := []struct {
		name     string
		response map[string]interface{}
		wantPort int
		wantSSL  bool
		wantErr  string
	}{
		{
			"plain service",
			map[string]interface{}{"Request": "StartService", "Port": 49152},
			49152, false, "",
		},
		{
			"ssl service",
			map[string]interface{}{"Request": "StartService", "Port": 49153, "EnableServiceSSL": true},
			49153, true, "",
		},
		{
			"unavailable",
			map[string]interface{}{"Request": "StartService"},
			0, false, "service com.apple.afc is not available",
		},
		{
			"denied",
			map[string]interface{}{"Request": "StartService", "Error": "PasswordProtected"},
			0, false, "lockdown request StartService failed: PasswordProtected",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, server := net.Pipe()
			defer client.Close()
			go lockdownServe(t, server, func(msg map[string]interface{}) interface{} {
				return tt.response
			})

			c := &lockdownClient{plistConn: plistConn{conn: client}, label: "test"}
			port, ssl, err := c.startService(AFCServiceName)
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPort, port)
			assert.Equal(t, tt.wantSSL, ssl)
		})
	}
}

func TestSplitNUL(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    []string
	}{
		{"empty", nil, nil},
		{"single", []byte("name\x00"), []string{"name"}},
		{"pairs", []byte("st_size\x00123\x00st_mtime\x00456\x00"), []string{"st_size", "123", "st_mtime", "456"}},
		{"no trailing nul", []byte("a\x00b"), []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := splitNUL(tt.payload); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitNUL() = %v, want %v", got, tt.want)
			}
		})
	}
}
