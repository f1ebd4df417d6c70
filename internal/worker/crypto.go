package worker

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ContentEncoding is the only push content coding the worker accepts.
const ContentEncoding = "aes128gcm"

const (
	saltLen   = 16
	headerLen = saltLen + 4 + 1
	tagLen    = 16
)

var errBadRecord = errors.New("invalid aes128gcm record")

// DecryptPush decrypts an aes128gcm push message body (RFC 8188 framing,
// RFC 8291 key derivation) for the subscription owning priv and authSecret.
func DecryptPush(priv *ecdh.PrivateKey, authSecret, body []byte) ([]byte, error) {
	if len(body) < headerLen {
		return nil, fmt.Errorf("%w: short header", errBadRecord)
	}
	salt := body[:saltLen]
	rs := int(binary.BigEndian.Uint32(body[saltLen : saltLen+4]))
	idLen := int(body[saltLen+4])
	if len(body) < headerLen+idLen {
		return nil, fmt.Errorf("%w: short key id", errBadRecord)
	}
	if rs <= tagLen+1 {
		return nil, fmt.Errorf("%w: record size %d", errBadRecord, rs)
	}
	keyID := body[headerLen : headerLen+idLen]
	ciphertext := body[headerLen+idLen:]

	senderPub, err := ecdh.P256().NewPublicKey(keyID)
	if err != nil {
		return nil, fmt.Errorf("sender key: %w", err)
	}
	shared, err := priv.ECDH(senderPub)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}

	info := make([]byte, 0, 14+65+65)
	info = append(info, "WebPush: info\x00"...)
	info = append(info, priv.PublicKey().Bytes()...)
	info = append(info, senderPub.Bytes()...)
	ikm, err := derive(shared, authSecret, info, 32)
	if err != nil {
		return nil, err
	}
	cek, err := derive(ikm, salt, []byte("Content-Encoding: aes128gcm\x00"), 16)
	if err != nil {
		return nil, err
	}
	baseNonce, err := derive(ikm, salt, []byte("Content-Encoding: nonce\x00"), 12)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}

	var out []byte
	for seq := 0; len(ciphertext) > 0; seq++ {
		n := min(rs, len(ciphertext))
		record := ciphertext[:n]
		ciphertext = ciphertext[n:]

		plain, err := gcm.Open(nil, recordNonce(baseNonce, seq), record, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", errBadRecord, seq, err)
		}
		data, last, err := unpad(plain)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
		if last != (len(ciphertext) == 0) {
			return nil, fmt.Errorf("%w: misplaced final record", errBadRecord)
		}
	}
	return out, nil
}

func derive(secret, salt, info []byte, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), out); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return out, nil
}

// recordNonce XORs the record sequence number into the low bytes of the
// base nonce.
func recordNonce(base []byte, seq int) []byte {
	nonce := make([]byte, len(base))
	copy(nonce, base)
	var s [8]byte
	binary.BigEndian.PutUint64(s[:], uint64(seq))
	for i := range s {
		nonce[len(nonce)-8+i] ^= s[i]
	}
	return nonce
}

// unpad strips the zero padding and the delimiter, reporting whether the
// record was the final one (delimiter 2).
func unpad(plain []byte) ([]byte, bool, error) {
	i := len(plain) - 1
	for i >= 0 && plain[i] == 0 {
		i--
	}
	if i < 0 {
		return nil, false, fmt.Errorf("%w: missing delimiter", errBadRecord)
	}
	switch plain[i] {
	case 1:
		return plain[:i], false, nil
	case 2:
		return plain[:i], true, nil
	default:
		return nil, false, fmt.Errorf("%w: bad delimiter %#x", errBadRecord, plain[i])
	}
}
