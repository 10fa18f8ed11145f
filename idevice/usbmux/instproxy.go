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
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/forensicanalysis/idevicextract/idevice"
)

// InstallationProxyServiceName is the installation listing service.
const InstallationProxyServiceName = "com.apple.mobile.installation_proxy"

// instproxyClient implements idevice.InstallationService. The installation
// proxy streams its result in batches until a Complete status arrives.
type instproxyClient struct {
	plistConn
}

func (c *instproxyClient) Browse(ctx context.Context, opts idevice.BrowseOptions) ([]idevice.AppEntry, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}

	clientOptions := map[string]interface{}{}
	if opts.ApplicationType != "" {
		clientOptions["ApplicationType"] = opts.ApplicationType
	}
	err := c.send(map[string]interface{}{
		"Command":       "Browse",
		"ClientOptions": clientOptions,
	})
	if err != nil {
		return nil, err
	}

	var entries []idevice.AppEntry
	for {
		var resp struct {
			Status      string                   `plist:"Status"`
			CurrentList []map[string]interface{} `plist:"CurrentList"`
		}
		if err := c.receive(&resp); err != nil {
			return nil, err
		}
		for _, app := range resp.CurrentList {
			entry, err := json.Marshal(app)
			if err != nil {
				return nil, errors.Wrap(err, "could not encode application entry")
			}
			entries = append(entries, entry)
		}
		switch resp.Status {
		case "Complete":
			return entries, nil
		case "BrowsingApplications", "":
			continue
		default:
			return nil, errors.Errorf("unexpected browse status %q", resp.Status)
		}
	}
}
