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

// Package seal encrypts finished artifact files for at rest confidentiality.
// Files are streamed through AES-256-CBC with PKCS#7 padding. The key is
// derived from an operator supplied passphrase with PBKDF2; salt and
// initialization vector are random per run and stored in the sealed file
// header, so only the passphrase has to be kept secret.
package seal

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	keySize    = 32
	iterations = 4096
	chunkSize  = 4096
)

var ErrEmptyPassphrase = errors.New("sealing passphrase is empty")
var ErrCorrupt = errors.New("sealed file is corrupt")

// Parameters are the non secret cipher parameters of a sealed artifact. They
// are persisted in the sealed file header and recorded in the manifest.
type Parameters struct {
	Salt   []byte `json:"salt"`
	IV     []byte `json:"iv"`
	KeyRef string `json:"key_ref,omitempty"`
}

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, iterations, keySize, sha256.New)
}

// Seal encrypts src into dst. The caller stays responsible for deleting the
// plaintext after a successful seal. A failed seal can leave a partial dst
// behind; its content must not be treated as valid.
func Seal(fs afero.Fs, src, dst, passphrase string) (*Parameters, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, errors.Wrap(err, "could not init cipher")
	}
	encrypter := cipher.NewCBCEncrypter(block, iv)

	in, err := fs.Open(src)
	if err != nil {
		return nil, errors.Wrap(err, "could not open plaintext")
	}
	defer in.Close()

	out, err := fs.Create(dst)
	if err != nil {
		return nil, errors.Wrap(err, "could not create sealed file")
	}

	err = encrypt(in, out, encrypter, salt, iv)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}

	return &Parameters{Salt: salt, IV: iv}, nil
}

func encrypt(in io.Reader, out io.Writer, encrypter cipher.BlockMode, salt, iv []byte) error {
	if _, err := out.Write(salt); err != nil {
		return err
	}
	if _, err := out.Write(iv); err != nil {
		return err
	}

	// rest carries the partial block left over by the previous chunk, so
	// padding is only applied once the input is exhausted.
	rest := make([]byte, 0, aes.BlockSize)
	buf := make([]byte, chunkSize)
	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			chunk := append(rest, buf[:n]...)
			whole := len(chunk) - len(chunk)%aes.BlockSize
			if whole > 0 {
				encrypter.CryptBlocks(chunk[:whole], chunk[:whole])
				if _, err := out.Write(chunk[:whole]); err != nil {
					return err
				}
			}
			rest = append(rest[:0], chunk[whole:]...)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return errors.Wrap(readErr, "could not read plaintext")
		}
	}

	padded := pad(rest)
	encrypter.CryptBlocks(padded, padded)
	_, err := out.Write(padded)
	return err
}

// Unseal decrypts a sealed artifact created by Seal.
func Unseal(fs afero.Fs, src, dst, passphrase string) error {
	if passphrase == "" {
		return ErrEmptyPassphrase
	}

	in, err := fs.Open(src)
	if err != nil {
		return errors.Wrap(err, "could not open sealed file")
	}
	defer in.Close()

	header := make([]byte, saltSize+aes.BlockSize)
	if _, err := io.ReadFull(in, header); err != nil {
		return ErrCorrupt
	}
	salt, iv := header[:saltSize], header[saltSize:]

	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return errors.Wrap(err, "could not init cipher")
	}
	decrypter := cipher.NewCBCDecrypter(block, iv)

	out, err := fs.Create(dst)
	if err != nil {
		return errors.Wrap(err, "could not create output file")
	}

	err = decrypt(in, out, decrypter)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

func decrypt(in io.Reader, out io.Writer, decrypter cipher.BlockMode) error {
	// last holds back one decrypted block until the input is exhausted, as
	// only the final block carries padding.
	var last []byte
	buf := make([]byte, chunkSize)
	rest := make([]byte, 0, aes.BlockSize)
	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			chunk := append(rest, buf[:n]...)
			whole := len(chunk) - len(chunk)%aes.BlockSize
			if whole > 0 {
				plain := make([]byte, whole)
				decrypter.CryptBlocks(plain, chunk[:whole])
				if last != nil {
					if _, err := out.Write(last); err != nil {
						return err
					}
				}
				if _, err := out.Write(plain[:whole-aes.BlockSize]); err != nil {
					return err
				}
				last = plain[whole-aes.BlockSize:]
			}
			rest = append(rest[:0], chunk[whole:]...)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return errors.Wrap(readErr, "could not read sealed file")
		}
	}

	if len(rest) != 0 || last == nil {
		return ErrCorrupt
	}
	unpadded, err := unpad(last)
	if err != nil {
		return err
	}
	_, err = out.Write(unpadded)
	return err
}

func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, ErrCorrupt
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize {
		return nil, ErrCorrupt
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrCorrupt
		}
	}
	return data[:len(data)-n], nil
}
