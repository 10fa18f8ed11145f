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
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forensicanalysis/idevicextract/idevice"
)

func pipelineConfig(t *testing.T) Config {
	t.Helper()
	config := DefaultConfig()
	config.ScratchDir = t.TempDir()
	config.Label = "test"
	config.Passphrase = "secret"
	return config
}

func TestPipelineRun(t *testing.T) {
	device := messageDevice(t, []fixtureMessage{
		{date: 100, sender: "+15550001", body: "first"},
		{date: 200, sender: "+15550002", body: "second"},
	})
	device.Apps = []idevice.AppEntry{
		[]byte(`{"CFBundleName": "Signal", "CFBundleIdentifier": "org.whispersystems.signal", "CFBundleVersion": "6.12"}`),
	}
	fs := afero.NewMemMapFs()

	pipeline := NewPipeline(&idevice.MemDriver{Device: device}, fs, pipelineConfig(t))
	require.NoError(t, pipeline.Run(context.Background()))
	assert.Equal(t, Closed, pipeline.State())

	for _, name := range []string{"sms_messages.csv.enc", "installed_apps.csv", "forensic_report.txt"} {
		exists, _ := afero.Exists(fs, name)
		assert.True(t, exists, name)
	}
	exists, _ := afero.Exists(fs, "sms_messages.csv")
	assert.False(t, exists, "plaintext must not persist next to the sealed file")

	// all service channels and the connection are released
	assert.Equal(t, 0, device.OpenServices())
	assert.Equal(t, 1, device.ConnCloses())

	report, err := afero.ReadFile(fs, "forensic_report.txt")
	require.NoError(t, err)
	assert.Contains(t, string(report), "Device UDID: abcdef123456")
	assert.Contains(t, string(report), "sms messages")
	assert.Contains(t, string(report), "installed apps")
}

// A failing message extraction must not stop inventory, report or teardown.
func TestPipelineRunPartialTolerance(t *testing.T) {
	device := idevice.NewMemDevice("abcdef123456") // no message store on the device
	device.Apps = []idevice.AppEntry{
		[]byte(`{"CFBundleName": "Signal", "CFBundleIdentifier": "org.whispersystems.signal", "CFBundleVersion": "6.12"}`),
	}
	fs := afero.NewMemMapFs()

	pipeline := NewPipeline(&idevice.MemDriver{Device: device}, fs, pipelineConfig(t))
	require.NoError(t, pipeline.Run(context.Background()))
	assert.Equal(t, Closed, pipeline.State())

	exists, _ := afero.Exists(fs, "installed_apps.csv")
	assert.True(t, exists)
	exists, _ = afero.Exists(fs, "forensic_report.txt")
	assert.True(t, exists)
	exists, _ = afero.Exists(fs, "sms_messages.csv.enc")
	assert.False(t, exists)

	// the failed stage must not be claimed by the report
	report, err := afero.ReadFile(fs, "forensic_report.txt")
	require.NoError(t, err)
	assert.NotContains(t, string(report), "sms messages")

	assert.Equal(t, 0, device.OpenServices())
	assert.Equal(t, 1, device.ConnCloses())
}

func TestPipelineRunConnectFailure(t *testing.T) {
	fs := afero.NewMemMapFs()
	driver := &idevice.MemDriver{ConnectErr: errors.New("device unreachable")}

	pipeline := NewPipeline(driver, fs, pipelineConfig(t))
	err := pipeline.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, Failed, pipeline.State())

	// nothing further runs after a session failure
	for _, name := range []string{"sms_messages.csv.enc", "installed_apps.csv", "forensic_report.txt"} {
		exists, _ := afero.Exists(fs, name)
		assert.False(t, exists, name)
	}
}

func TestPipelineRunSealInventory(t *testing.T) {
	device := idevice.NewMemDevice("abcdef123456")
	device.Apps = []idevice.AppEntry{
		[]byte(`{"CFBundleName": "Signal", "CFBundleIdentifier": "org.whispersystems.signal", "CFBundleVersion": "6.12"}`),
	}
	fs := afero.NewMemMapFs()
	config := pipelineConfig(t)
	config.SealInventory = true

	pipeline := NewPipeline(&idevice.MemDriver{Device: device}, fs, config)
	require.NoError(t, pipeline.Run(context.Background()))

	exists, _ := afero.Exists(fs, "installed_apps.csv.enc")
	assert.True(t, exists)
	exists, _ = afero.Exists(fs, "installed_apps.csv")
	assert.False(t, exists)
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Idle, "idle"},
		{Connecting, "connecting"},
		{ExtractingMessages, "extracting messages"},
		{ExtractingInventory, "extracting inventory"},
		{Reporting, "reporting"},
		{Closed, "closed"},
		{Failed, "failed"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %v, want %v", got, tt.want)
			}
		})
	}
}
