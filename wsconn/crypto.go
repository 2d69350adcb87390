package wsconn

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
)

// aesCBCDecrypt decrypts a base64 AES-256-CBC ciphertext using the
// channel-specific key/iv learned from the subscribe ACK (spec §4.2,
// §6). Both key and iv arrive as plain UTF-8 strings, used directly as
// key/iv bytes the same way the broker's reference client does.
func aesCBCDecrypt(key, iv, ciphertextB64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", err
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", errors.New("ciphertext is not a multiple of the AES block size")
	}

	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return "", err
	}
	if len(iv) < aes.BlockSize {
		return "", errors.New("iv shorter than AES block size")
	}

	mode := cipher.NewCBCDecrypter(block, []byte(iv)[:aes.BlockSize])
	plain := make([]byte, len(raw))
	mode.CryptBlocks(plain, raw)

	return string(pkcs7Unpad(plain)), nil
}

func pkcs7Unpad(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	pad := int(data[len(data)-1])
	if pad <= 0 || pad > len(data) {
		return data
	}
	return data[:len(data)-pad]
}
