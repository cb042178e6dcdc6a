package filecrypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// IVSize is the CBC initialisation vector length in bytes.
	IVSize = aes.BlockSize
)

var (
	// ErrCrypto indicates the key or IV is missing or malformed.
	ErrCrypto = errors.New("invalid encryption key material")
	// ErrCorruptCiphertext indicates the ciphertext cannot be a valid CBC/PKCS#7 payload.
	ErrCorruptCiphertext = errors.New("corrupt ciphertext")
)

// Sealed is the result of encrypting a file. Key and IV are hex encoded for storage.
type Sealed struct {
	Ciphertext []byte
	KeyHex     string
	IVHex      string
}

// Cipher encrypts submission files at rest with a fresh key/IV per call.
type Cipher struct {
	random io.Reader
}

// New returns a Cipher backed by crypto/rand.
func New() *Cipher {
	return &Cipher{random: rand.Reader}
}

// Encrypt seals plain with AES-256-CBC under a random key and IV.
func (c *Cipher) Encrypt(plain []byte) (Sealed, error) {
	key := make([]byte, KeySize)
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(c.random, key); err != nil {
		return Sealed{}, fmt.Errorf("generate key: %w", err)
	}
	if _, err := io.ReadFull(c.random, iv); err != nil {
		return Sealed{}, fmt.Errorf("generate iv: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return Sealed{}, fmt.Errorf("%w: %v", ErrCrypto, err)
	}

	padded := pad(plain, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return Sealed{
		Ciphertext: out,
		KeyHex:     hex.EncodeToString(key),
		IVHex:      hex.EncodeToString(iv),
	}, nil
}

// EncryptFile encrypts the file at path and removes the cleartext source once sealed.
func (c *Cipher) EncryptFile(path string) (Sealed, error) {
	plain, err := os.ReadFile(path)
	if err != nil {
		return Sealed{}, fmt.Errorf("read source file: %w", err)
	}

	sealed, err := c.Encrypt(plain)
	if err != nil {
		return Sealed{}, err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Sealed{}, fmt.Errorf("remove cleartext source: %w", err)
	}

	return sealed, nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(ciphertext []byte, keyHex, ivHex string) ([]byte, error) {
	key, err := decodeHex(keyHex, KeySize)
	if err != nil {
		return nil, fmt.Errorf("%w: key %v", ErrCrypto, err)
	}
	iv, err := decodeHex(ivHex, IVSize)
	if err != nil {
		return nil, fmt.Errorf("%w: iv %v", ErrCrypto, err)
	}

	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of the block size", ErrCorruptCiphertext, len(ciphertext))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)

	plain, err := unpad(out, aes.BlockSize)
	if err != nil {
		return nil, err
	}
	return plain, nil
}

func decodeHex(value string, size int) ([]byte, error) {
	if value == "" {
		return nil, errors.New("missing")
	}
	raw, err := hex.DecodeString(value)
	if err != nil {
		return nil, err
	}
	if len(raw) != size {
		return nil, fmt.Errorf("expected %d bytes, got %d", size, len(raw))
	}
	return raw, nil
}

func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(append(make([]byte, 0, len(data)+n), data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, blockSize int) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("%w: bad padding", ErrCorruptCiphertext)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrCorruptCiphertext)
		}
	}
	return data[:len(data)-n], nil
}
