package worker

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/binary"
	"strings"
	"testing"
)

// encryptPush is the application server side of aes128gcm: it encrypts
// plaintext for the subscription key uaPub in records of rs bytes.
func encryptPush(t *testing.T, uaPub *ecdh.PublicKey, auth, plaintext []byte, rs int) []byte {
	t.Helper()
	sender, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate sender key: %v", err)
	}
	shared, err := sender.ECDH(uaPub)
	if err != nil {
		t.Fatalf("ecdh: %v", err)
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		t.Fatalf("salt: %v", err)
	}

	info := append([]byte("WebPush: info\x00"), uaPub.Bytes()...)
	info = append(info, sender.PublicKey().Bytes()...)
	ikm, err := derive(shared, auth, info, 32)
	if err != nil {
		t.Fatal(err)
	}
	cek, err := derive(ikm, salt, []byte("Content-Encoding: aes128gcm\x00"), 16)
	if err != nil {
		t.Fatal(err)
	}
	nonce, err := derive(ikm, salt, []byte("Content-Encoding: nonce\x00"), 12)
	if err != nil {
		t.Fatal(err)
	}
	block, err := aes.NewCipher(cek)
	if err != nil {
		t.Fatal(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatal(err)
	}

	senderPub := sender.PublicKey().Bytes()
	out := make([]byte, headerLen, headerLen+len(senderPub))
	copy(out, salt)
	binary.BigEndian.PutUint32(out[saltLen:], uint32(rs))
	out[saltLen+4] = byte(len(senderPub))
	out = append(out, senderPub...)

	chunk := rs - tagLen - 1
	for seq := 0; ; seq++ {
		n := min(chunk, len(plaintext))
		last := n == len(plaintext)
		record := append([]byte(nil), plaintext[:n]...)
		plaintext = plaintext[n:]
		if last {
			record = append(record, 2)
		} else {
			record = append(record, 1)
		}
		out = gcm.Seal(out, recordNonce(nonce, seq), record, nil)
		if last {
			return out
		}
	}
}

func newSubscriptionKey(t *testing.T) (*ecdh.PrivateKey, []byte) {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		t.Fatalf("auth: %v", err)
	}
	return priv, auth
}

func TestDecryptPush(t *testing.T) {
	priv, auth := newSubscriptionKey(t)
	long := strings.Repeat(`{"body":"Lego 10300 Zamek","match_key":"lego 10300"}`, 10)

	tests := []struct {
		name      string
		plaintext string
		rs        int
	}{
		{name: "single record", plaintext: `{"title":"Nowa oferta","match_key":"k1"}`, rs: 4096},
		{name: "multiple records", plaintext: long, rs: 64},
		{name: "empty", plaintext: "", rs: 4096},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := encryptPush(t, priv.PublicKey(), auth, []byte(tt.plaintext), tt.rs)
			got, err := DecryptPush(priv, auth, body)
			if err != nil {
				t.Fatalf("decrypt: %v", err)
			}
			if string(got) != tt.plaintext {
				t.Errorf("got %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestDecryptPushRejects(t *testing.T) {
	priv, auth := newSubscriptionKey(t)
	body := encryptPush(t, priv.PublicKey(), auth, []byte(`{"body":"x"}`), 4096)

	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-1] ^= 0xff

	wrongAuth := append([]byte(nil), auth...)
	wrongAuth[0] ^= 0xff

	other, _ := newSubscriptionKey(t)

	tests := []struct {
		name string
		priv *ecdh.PrivateKey
		auth []byte
		body []byte
	}{
		{name: "short header", priv: priv, auth: auth, body: body[:10]},
		{name: "tampered ciphertext", priv: priv, auth: auth, body: tampered},
		{name: "wrong auth secret", priv: priv, auth: wrongAuth, body: body},
		{name: "wrong key", priv: other, auth: auth, body: body},
		{name: "truncated key id", priv: priv, auth: auth, body: body[:headerLen+10]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecryptPush(tt.priv, tt.auth, tt.body); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestUnpad(t *testing.T) {
	tests := []struct {
		in       []byte
		want     string
		wantLast bool
		wantErr  bool
	}{
		{in: []byte("abc\x02"), want: "abc", wantLast: true},
		{in: []byte("abc\x01\x00\x00"), want: "abc"},
		{in: []byte("\x02\x00"), want: "", wantLast: true},
		{in: []byte("abc\x03"), wantErr: true},
		{in: []byte("\x00\x00"), wantErr: true},
	}
	for _, tt := range tests {
		got, last, err := unpad(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("unpad(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if string(got) != tt.want || last != tt.wantLast {
			t.Errorf("unpad(%q) = %q, %v; want %q, %v", tt.in, got, last, tt.want, tt.wantLast)
		}
	}
}
