package chk

import (
	"bytes"
	"errors"
	"testing"
	"testing/quick"

	"github.com/bobg/hashtree"
)

func TestRoundTrip(t *testing.T) {
	err := quick.Check(func(plaintext []byte) bool {
		ciphertext, key, err := Encrypt(plaintext)
		if err != nil {
			t.Log(err)
			return false
		}
		if uint64(len(ciphertext)) != CipherSize(uint64(len(plaintext))) {
			t.Logf("ciphertext length %d for plaintext length %d", len(ciphertext), len(plaintext))
			return false
		}
		if PlainSize(uint64(len(ciphertext))) != uint64(len(plaintext)) {
			return false
		}
		got, err := Decrypt(ciphertext, key)
		if err != nil {
			t.Log(err)
			return false
		}
		return bytes.Equal(got, plaintext)
	}, nil)
	if err != nil {
		t.Error(err)
	}
}

func TestConvergent(t *testing.T) {
	err := quick.Check(func(plaintext []byte) bool {
		c1, k1, err := Encrypt(plaintext)
		if err != nil {
			return false
		}
		c2, k2, err := Encrypt(append([]byte(nil), plaintext...))
		if err != nil {
			return false
		}
		return k1 == k2 && hashtree.Sum(c1) == hashtree.Sum(c2)
	}, nil)
	if err != nil {
		t.Error(err)
	}
}

func TestAuthentication(t *testing.T) {
	ciphertext, key, err := Encrypt([]byte("attack at dawn"))
	if err != nil {
		t.Fatal(err)
	}

	wrongKey := key
	wrongKey[0] ^= 1

	damaged := append([]byte(nil), ciphertext...)
	damaged[3] ^= 0x80

	cases := []struct {
		name       string
		ciphertext []byte
		key        hashtree.Key
	}{
		{name: "wrong key", ciphertext: ciphertext, key: wrongKey},
		{name: "damaged", ciphertext: damaged, key: key},
		{name: "short", ciphertext: ciphertext[:Overhead-1], key: key},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Decrypt(c.ciphertext, c.key)
			var aerr *hashtree.AuthenticationError
			if !errors.As(err, &aerr) {
				t.Errorf("got error %v, want AuthenticationError", err)
			}
		})
	}
}

func TestEmpty(t *testing.T) {
	ciphertext, key, err := Encrypt(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(ciphertext) != Overhead {
		t.Errorf("got %d bytes, want %d", len(ciphertext), Overhead)
	}
	if key != hashtree.Key(hashtree.EmptyHash) {
		t.Errorf("got key %s, want hash of empty", key)
	}
}
