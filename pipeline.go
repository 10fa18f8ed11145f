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
	"encoding/hex"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/forensicanalysis/idevicextract/idevice"
	"github.com/forensicanalysis/idevicextract/seal"
)

// State is the stage a pipeline is in. Failed is terminal and only reachable
// while connecting; once a session exists the remaining stages always run.
type State int

const (
	Idle State = iota
	Connecting
	ExtractingMessages
	ExtractingInventory
	Reporting
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case ExtractingMessages:
		return "extracting messages"
	case ExtractingInventory:
		return "extracting inventory"
	case Reporting:
		return "reporting"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Pipeline runs one extraction against one device: open a session, extract
// messages, extract the application inventory, write the report, close the
// session. Extraction failures are reported and skipped; only a session
// failure aborts the run.
type Pipeline struct {
	driver idevice.Driver
	fs     afero.Fs
	config Config
	state  State
}

// NewPipeline creates a pipeline. The filesystem receives all produced
// artifacts and the report.
func NewPipeline(driver idevice.Driver, fs afero.Fs, config Config) *Pipeline {
	return &Pipeline{driver: driver, fs: fs, config: config, state: Idle}
}

// State returns the stage the pipeline is in.
func (p *Pipeline) State() State {
	return p.state
}

// Run executes the pipeline. The device session is closed on every path once
// it was opened, including extraction failures.
func (p *Pipeline) Run(ctx context.Context) error {
	if timeout, err := p.config.timeout(); err == nil && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	p.state = Connecting
	session, err := idevice.Open(ctx, p.driver, p.config.Label)
	if err != nil {
		p.state = Failed
		return errors.Wrap(err, "could not open device session")
	}
	defer session.Close() // nolint:errcheck
	log.Printf("connected to device %s", session.UDID())

	run := Run{ID: uuid.New().String(), UDID: session.UDID(), Started: time.Now()}

	p.state = ExtractingMessages
	messagesPath := filepath.Join(p.config.OutputDir, p.config.MessagesFile)
	artifact, err := ExtractMessages(ctx, session, p.fs, p.config.ScratchDir, messagesPath, p.config.Passphrase)
	if err != nil {
		log.Printf("message extraction failed: %v", err)
	} else {
		artifact.KeyRef = p.config.keyRef()
		run.Artifacts = append(run.Artifacts, *artifact)
		log.Printf("sms messages extracted and sealed to %s", artifact.Path)
	}

	p.state = ExtractingInventory
	inventoryPath := filepath.Join(p.config.OutputDir, p.config.InventoryFile)
	artifact, err = ExtractInventory(ctx, session, p.fs, inventoryPath)
	if err != nil {
		log.Printf("inventory extraction failed: %v", err)
	} else {
		if p.config.SealInventory {
			err = p.sealArtifact(artifact)
		}
		if err != nil {
			log.Printf("could not seal inventory: %v", err)
		} else {
			run.Artifacts = append(run.Artifacts, *artifact)
			log.Printf("installed apps saved to %s", artifact.Path)
		}
	}

	p.state = Reporting
	reportPath := filepath.Join(p.config.OutputDir, p.config.ReportFile)
	if err := WriteReport(p.fs, reportPath, run); err != nil {
		log.Printf("could not write report: %v", err)
	} else {
		log.Printf("forensic report generated: %s", reportPath)
	}

	if err := session.Close(); err != nil {
		log.Printf("session close failed: %v", err)
	}
	p.state = Closed
	return nil
}

// sealArtifact seals a plaintext artifact in place, removes the plaintext
// and updates the artifact description.
func (p *Pipeline) sealArtifact(artifact *Artifact) error {
	sealedPath := artifact.Path + ".enc"
	params, err := seal.Seal(p.fs, artifact.Path, sealedPath, p.config.Passphrase)
	if err != nil {
		return err
	}
	if err := p.fs.Remove(artifact.Path); err != nil {
		return err
	}
	artifact.Path = sealedPath
	artifact.Sealed = true
	artifact.KeyRef = p.config.keyRef()
	artifact.Salt = hex.EncodeToString(params.Salt)
	artifact.IV = hex.EncodeToString(params.IV)
	return nil
}
