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
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/forensicanalysis/idevicextract/idevice"
)

// AFCServiceName is the general file transfer service.
const AFCServiceName = "com.apple.afc"

const afcMagic = "CFA6LPAA"
const afcHeaderSize = 40
const afcMaxPacketSize = 4096

const (
	afcOpStatus         = 0x01
	afcOpData           = 0x02
	afcOpReadDir        = 0x03
	afcOpGetFileInfo    = 0x0a
	afcOpFileOpen       = 0x0d
	afcOpFileOpenResult = 0x0e
	afcOpFileRead       = 0x0f
	afcOpFileClose      = 0x14
)

const afcFopenReadOnly = 0x01

// afcPacket is one framed AFC message. The header payload carries the
// operation arguments, the data payload carries file content.
type afcPacket struct {
	operation     uint64
	headerPayload []byte
	data          []byte
}

func writeAFCPacket(w io.Writer, packetNum uint64, p afcPacket) error {
	header := make([]byte, afcHeaderSize)
	copy(header, afcMagic)
	thisLength := uint64(afcHeaderSize + len(p.headerPayload))
	binary.LittleEndian.PutUint64(header[8:], thisLength+uint64(len(p.data)))
	binary.LittleEndian.PutUint64(header[16:], thisLength)
	binary.LittleEndian.PutUint64(header[24:], packetNum)
	binary.LittleEndian.PutUint64(header[32:], p.operation)
	if _, err := w.Write(header); err != nil {
		return err
	}
	if _, err := w.Write(p.headerPayload); err != nil {
		return err
	}
	_, err := w.Write(p.data)
	return err
}

func readAFCPacket(r io.Reader) (*afcPacket, error) {
	header := make([]byte, afcHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if string(header[:8]) != afcMagic {
		return nil, errors.New("invalid file service packet")
	}
	entireLength := binary.LittleEndian.Uint64(header[8:])
	thisLength := binary.LittleEndian.Uint64(header[16:])
	if thisLength < afcHeaderSize || entireLength < thisLength {
		return nil, errors.New("invalid file service packet length")
	}
	p := &afcPacket{operation: binary.LittleEndian.Uint64(header[32:])}
	p.headerPayload = make([]byte, thisLength-afcHeaderSize)
	if _, err := io.ReadFull(r, p.headerPayload); err != nil {
		return nil, err
	}
	p.data = make([]byte, entireLength-thisLength)
	if _, err := io.ReadFull(r, p.data); err != nil {
		return nil, err
	}
	return p, nil
}

// afcClient implements idevice.FileService over an AFC service connection.
type afcClient struct {
	conn      net.Conn
	packetNum uint64
}

func (a *afcClient) roundTrip(ctx context.Context, p afcPacket) (*afcPacket, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = a.conn.SetDeadline(deadline)
	} else {
		_ = a.conn.SetDeadline(time.Time{})
	}
	a.packetNum++
	if err := writeAFCPacket(a.conn, a.packetNum, p); err != nil {
		return nil, err
	}
	resp, err := readAFCPacket(a.conn)
	if err != nil {
		return nil, err
	}
	if resp.operation == afcOpStatus {
		status := binary.LittleEndian.Uint64(resp.headerPayload)
		if status != 0 {
			return nil, errors.Errorf("file service error %d", status)
		}
	}
	return resp, nil
}

func (a *afcClient) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	payload := make([]byte, 8, 8+len(path)+1)
	binary.LittleEndian.PutUint64(payload, afcFopenReadOnly)
	payload = append(payload, path...)
	payload = append(payload, 0)

	resp, err := a.roundTrip(ctx, afcPacket{operation: afcOpFileOpen, headerPayload: payload})
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s", path)
	}
	if resp.operation != afcOpFileOpenResult || len(resp.headerPayload) < 8 {
		return nil, errors.Errorf("unexpected response %#x to open of %s", resp.operation, path)
	}
	handle := binary.LittleEndian.Uint64(resp.headerPayload)
	return &afcFile{client: a, ctx: ctx, handle: handle}, nil
}

func (a *afcClient) Stat(ctx context.Context, path string) (*idevice.FileInfo, error) {
	resp, err := a.roundTrip(ctx, afcPacket{operation: afcOpGetFileInfo, headerPayload: append([]byte(path), 0)})
	if err != nil {
		return nil, errors.Wrapf(err, "could not get file info for %s", path)
	}

	info := &idevice.FileInfo{Path: path}
	pairs := splitNUL(resp.data)
	for i := 0; i+1 < len(pairs); i += 2 {
		switch pairs[i] {
		case "st_size":
			info.Size, _ = strconv.ParseInt(pairs[i+1], 10, 64)
		case "st_mtime":
			ns, _ := strconv.ParseInt(pairs[i+1], 10, 64)
			info.ModTime = time.Unix(0, ns)
		}
	}
	return info, nil
}

func (a *afcClient) List(ctx context.Context, dir string) ([]string, error) {
	resp, err := a.roundTrip(ctx, afcPacket{operation: afcOpReadDir, headerPayload: append([]byte(dir), 0)})
	if err != nil {
		return nil, errors.Wrapf(err, "could not read directory %s", dir)
	}
	var names []string
	for _, name := range splitNUL(resp.data) {
		if name == "." || name == ".." {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func (a *afcClient) Close() error {
	return a.conn.Close()
}

// afcFile reads a remote file in packet sized chunks.
type afcFile struct {
	client *afcClient
	ctx    context.Context
	handle uint64
	closed bool
}

func (f *afcFile) Read(p []byte) (int, error) {
	if f.closed {
		return 0, errors.New("file is closed")
	}
	size := uint64(len(p))
	if size > afcMaxPacketSize {
		size = afcMaxPacketSize
	}
	payload := make([]byte, 16)
	binary.LittleEndian.PutUint64(payload, f.handle)
	binary.LittleEndian.PutUint64(payload[8:], size)

	resp, err := f.client.roundTrip(f.ctx, afcPacket{operation: afcOpFileRead, headerPayload: payload})
	if err != nil {
		return 0, err
	}
	if len(resp.data) == 0 {
		return 0, io.EOF
	}
	return copy(p, resp.data), nil
}

func (f *afcFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, f.handle)
	_, err := f.client.roundTrip(f.ctx, afcPacket{operation: afcOpFileClose, headerPayload: payload})
	return err
}
