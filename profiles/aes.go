package profiles

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// ErrCipher marks failures inside the symmetric cipher: bad key sizes,
// truncated ciphertext, invalid padding. Wrong key and corrupted input are
// indistinguishable behind it.
var ErrCipher = errors.New("cipher error")

// ErrBufferTooSmall reports a caller-supplied output buffer that cannot
// hold the decrypted data.
var ErrBufferTooSmall = errors.New("output buffer too small")

const decryptChunkSize = 32 * 1024

// aesCBC implements AES-CBC with an IV prefix and PKCS#7 padding, the
// scheme LCP uses for key blobs and publication resources.
type aesCBC struct {
	block cipher.Block
}

func newAESCBC(key []byte) (*aesCBC, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipher, err)
	}
	return &aesCBC{block: block}, nil
}

func (a *aesCBC) BlockSize() int { return a.block.BlockSize() }

func (a *aesCBC) Decrypt(data []byte) ([]byte, error) {
	bs := a.block.BlockSize()
	if len(data) < 2*bs {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrCipher)
	}
	iv := data[:bs]
	ct := data[bs:]
	if len(ct)%bs != 0 {
		return nil, fmt.Errorf("%w: ciphertext not a multiple of block size", ErrCipher)
	}
	out := make([]byte, len(ct))
	mode := cipher.NewCBCDecrypter(a.block, iv)
	mode.CryptBlocks(out, ct)
	return unpad(out, bs)
}

func (a *aesCBC) DecryptInto(ciphertext, out []byte) (int, error) {
	plain, err := a.Decrypt(ciphertext)
	if err != nil {
		return 0, err
	}
	if len(plain) > len(out) {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, len(plain), len(out))
	}
	return copy(out, plain), nil
}

func (a *aesCBC) Encrypt(data []byte) ([]byte, error) {
	bs := a.block.BlockSize()
	iv := make([]byte, bs)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipher, err)
	}
	padLen := bs - (len(data) % bs)
	if padLen == 0 {
		padLen = bs
	}
	plain := make([]byte, 0, len(data)+padLen)
	plain = append(plain, data...)
	plain = append(plain, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
	out := make([]byte, bs+len(plain))
	copy(out[:bs], iv)
	mode := cipher.NewCBCEncrypter(a.block, iv)
	mode.CryptBlocks(out[bs:], plain)
	return out, nil
}

// NewDecrypter returns a forward-only reader decrypting src lazily. The IV
// is consumed on the first read; the final block is withheld until the
// source reaches EOF so the padding can be stripped.
func (a *aesCBC) NewDecrypter(src io.Reader) io.Reader {
	return &cbcDecrypter{block: a.block, src: src}
}

// DecryptedLength determines the plaintext length by decrypting only the
// final ciphertext block.
func (a *aesCBC) DecryptedLength(ra io.ReaderAt, encryptedSize int64) (int64, error) {
	bs := int64(a.block.BlockSize())
	if encryptedSize < 2*bs {
		return 0, fmt.Errorf("%w: ciphertext too short", ErrCipher)
	}
	if encryptedSize%bs != 0 {
		return 0, fmt.Errorf("%w: ciphertext not a multiple of block size", ErrCipher)
	}
	tail := make([]byte, 2*bs)
	if _, err := ra.ReadAt(tail, encryptedSize-2*bs); err != nil {
		return 0, err
	}
	last := make([]byte, bs)
	mode := cipher.NewCBCDecrypter(a.block, tail[:bs])
	mode.CryptBlocks(last, tail[bs:])
	unpadded, err := unpad(last, int(bs))
	if err != nil {
		return 0, err
	}
	// Total minus the IV, minus the padding of the final block.
	return encryptedSize - bs - (bs - int64(len(unpadded))), nil
}

func unpad(plain []byte, bs int) ([]byte, error) {
	if len(plain) == 0 {
		return plain, nil
	}
	pad := int(plain[len(plain)-1])
	if pad <= 0 || pad > bs || pad > len(plain) {
		return nil, fmt.Errorf("%w: invalid padding", ErrCipher)
	}
	return plain[:len(plain)-pad], nil
}

// cbcDecrypter streams CBC decryption across reads. It keeps at least one
// decrypted block back until the source is exhausted; that block carries
// the padding.
type cbcDecrypter struct {
	src   io.Reader
	block cipher.Block
	mode  cipher.BlockMode
	plain []byte // decrypted bytes ready for delivery
	held  []byte // trailing decrypted block, withheld until EOF
	carry []byte // ciphertext remainder shorter than one block
	done  bool
	err   error
}

func (d *cbcDecrypter) Read(p []byte) (int, error) {
	for len(d.plain) == 0 && d.err == nil && !d.done {
		d.fill()
	}
	if len(d.plain) > 0 {
		n := copy(p, d.plain)
		d.plain = d.plain[n:]
		return n, nil
	}
	if d.err != nil {
		return 0, d.err
	}
	return 0, io.EOF
}

func (d *cbcDecrypter) fill() {
	bs := d.block.BlockSize()
	if d.mode == nil {
		iv := make([]byte, bs)
		if _, err := io.ReadFull(d.src, iv); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				d.err = fmt.Errorf("%w: ciphertext too short", ErrCipher)
			} else {
				d.err = err
			}
			return
		}
		d.mode = cipher.NewCBCDecrypter(d.block, iv)
	}

	buf := make([]byte, decryptChunkSize)
	n, rerr := d.src.Read(buf)
	if n > 0 {
		d.carry = append(d.carry, buf[:n]...)
	}
	if full := len(d.carry) / bs * bs; full > 0 {
		dec := make([]byte, full)
		d.mode.CryptBlocks(dec, d.carry[:full])
		d.carry = append(d.carry[:0], d.carry[full:]...)
		d.held = append(d.held, dec...)
	}
	// Everything but the trailing block can be released; the trailing
	// block may carry the padding.
	if len(d.held) > bs {
		d.plain = append(d.plain, d.held[:len(d.held)-bs]...)
		d.held = append(d.held[:0:0], d.held[len(d.held)-bs:]...)
	}

	switch {
	case rerr == nil:
		return
	case rerr == io.EOF:
		if len(d.carry) != 0 {
			d.err = fmt.Errorf("%w: ciphertext not a multiple of block size", ErrCipher)
			return
		}
		if len(d.held) == 0 {
			d.err = fmt.Errorf("%w: ciphertext too short", ErrCipher)
			return
		}
		unpadded, err := unpad(d.held, bs)
		if err != nil {
			d.err = err
			return
		}
		d.plain = append(d.plain, unpadded...)
		d.held = nil
		d.done = true
	default:
		d.err = rerr
	}
}
