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

// Package idevicextract acquires forensic artifacts from a connected iOS
// device and preserves them for a digital forensic investigation.
//
// One extraction run is strictly sequential: a device session is opened over
// the lockdown service protocol, the message store is copied and exported,
// the application inventory is enumerated, a manifest of the produced
// artifacts is written and the session is closed. Extractions tolerate
// partial failure; once a session exists, a failing step is reported and the
// remaining steps still run.
//
// Produced files
//
// A run writes three files into the output directory:
//     - sms_messages.csv.enc   sealed message export, header Date,Phone Number,Message
//     - installed_apps.csv     application inventory, header App Name,Bundle ID,Version
//     - forensic_report.txt    flat text manifest of the run
//
// Sealed artifacts are encrypted with AES-256-CBC. The key is derived from
// the operator passphrase in the IDEVICEXTRACT_KEY environment variable; the
// random salt and initialization vector are stored in the sealed file header
// and recorded in the manifest.
package idevicextract
