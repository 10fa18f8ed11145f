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
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/forensicanalysis/idevicextract/idevice"
)

func browseApp(name, bundleID string) map[string]interface{} {
	return map[string]interface{}{
		"CFBundleName":       name,
		"CFBundleIdentifier": bundleID,
		"CFBundleVersion":    "1.0",
	}
}

func TestInstproxyBrowse(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	go func() {
		p := &plistConn{conn: server}
		var req map[string]interface{}
		if err := p.receive(&req); err != nil {
			t.Errorf("receive browse request: %v", err)
			return
		}
		assert.Equal(t, "Browse", req["Command"])

		// two batches, then the completion message
		batches := []map[string]interface{}{
			{
				"Status":      "BrowsingApplications",
				"CurrentList": []interface{}{browseApp("Signal", "org.whispersystems.signal")},
			},
			{
				"Status":      "BrowsingApplications",
				"CurrentList": []interface{}{browseApp("Maps", "com.apple.Maps")},
			},
			{"Status": "Complete"},
		}
		for _, batch := range batches {
			if err := p.send(batch); err != nil {
				t.Errorf("send browse batch: %v", err)
				return
			}
		}
	}()

	c := &instproxyClient{plistConn: plistConn{conn: client}}
	entries, err := c.Browse(context.Background(), idevice.BrowseOptions{ApplicationType: "User"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Signal", gjson.GetBytes(entries[0], "CFBundleName").String())
	assert.Equal(t, "com.apple.Maps", gjson.GetBytes(entries[1], "CFBundleIdentifier").String())
}

func TestInstproxyBrowseUnexpectedStatus(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	go func() {
		p := &plistConn{conn: server}
		var req map[string]interface{}
		if err := p.receive(&req); err != nil {
			return
		}
		_ = p.send(map[string]interface{}{"Status": "Cancelled"})
	}()

	c := &instproxyClient{plistConn: plistConn{conn: client}}
	_, err := c.Browse(context.Background(), idevice.BrowseOptions{})
	assert.EqualError(t, err, `unexpected browse status "Cancelled"`)
}
