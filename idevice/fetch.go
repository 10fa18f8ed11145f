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
	"fmt"
	"io"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

// transferChunkSize bounds single reads on the file transfer channel. The
// value matches the service's maximum packet size.
const transferChunkSize = 4096

// FetchInfo describes a completed copy of a remote file.
type FetchInfo struct {
	RemotePath string
	LocalPath  string
	Size       int64
	// BLAKE3 is the hex encoded digest of the copied bytes.
	BLAKE3 string
}

// Fetch copies a remote file to the local filesystem in bounded chunks. The
// copy is verified against the remote file size and, if the service can
// report one, against a remote content digest.
func Fetch(ctx context.Context, svc FileService, fs afero.Fs, remotePath, localPath string) (*FetchInfo, error) {
	src, err := svc.Open(ctx, remotePath)
	if err != nil {
		return nil, errors.Wrap(err, "could not open remote file")
	}
	defer src.Close()

	if err := fs.MkdirAll(filepath.Dir(localPath), 0750); err != nil {
		return nil, err
	}
	dst, err := fs.Create(localPath)
	if err != nil {
		return nil, errors.Wrap(err, "could not create local file")
	}

	hasher := blake3.New()
	buf := make([]byte, transferChunkSize)
	written, err := io.CopyBuffer(io.MultiWriter(dst, hasher), src, buf)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, errors.Wrapf(err, "transfer of %s failed", remotePath)
	}

	info := &FetchInfo{
		RemotePath: remotePath,
		LocalPath:  localPath,
		Size:       written,
		BLAKE3:     fmt.Sprintf("%x", hasher.Sum(nil)),
	}

	remote, err := svc.Stat(ctx, remotePath)
	if err != nil {
		return nil, errors.Wrap(err, "could not stat remote file")
	}
	if remote.Size != written {
		return nil, errors.Errorf("incomplete transfer of %s: copied %d of %d bytes", remotePath, written, remote.Size)
	}

	if digester, ok := svc.(ContentDigester); ok {
		remoteDigest, err := digester.ContentDigest(ctx, remotePath)
		if err != nil {
			return nil, errors.Wrap(err, "could not get remote digest")
		}
		if remoteDigest != info.BLAKE3 {
			return nil, errors.Errorf("digest mismatch for %s (is %s, expected %s)", remotePath, info.BLAKE3, remoteDigest)
		}
	}

	return info, nil
}
