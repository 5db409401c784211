// Package crypto 提供收款信息加密和脱敏工具
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"unicode/utf8"
)

// AES 加密管理器，使用 AES-GCM
type AES struct {
	aead cipher.AEAD
}

// 预定义错误
var (
	ErrInvalidKeySize   = errors.New("invalid key size: must be 16, 24, or 32 bytes")
	ErrCiphertextShort  = errors.New("ciphertext too short")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// NewAES 创建 AES 加密管理器
// key 长度必须是 16（AES-128）、24（AES-192）或 32（AES-256）字节
func NewAES(key string) (*AES, error) {
	keyLen := len(key)
	if keyLen != 16 && keyLen != 24 && keyLen != 32 {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AES{aead: aead}, nil
}

// Encrypt 加密数据，输出 base64(nonce|ciphertext)
func (a *AES) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, a.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := a.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt 解密数据
func (a *AES) Decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}
	nonceSize := a.aead.NonceSize()
	if len(data) < nonceSize {
		return "", ErrCiphertextShort
	}
	plain, err := a.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// EncryptJSON 序列化后加密
func (a *AES) EncryptJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return a.Encrypt(string(data))
}

// DecryptJSON 解密后反序列化
func (a *AES) DecryptJSON(ciphertext string, v interface{}) error {
	plain, err := a.Decrypt(ciphertext)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(plain), v)
}

// MaskPhone 手机号脱敏
func MaskPhone(phone string) string {
	if len(phone) != 11 {
		return phone
	}
	return phone[:3] + "****" + phone[7:]
}

// MaskBankCard 银行卡号脱敏
func MaskBankCard(cardNo string) string {
	if len(cardNo) < 8 {
		return cardNo
	}
	return cardNo[:4] + " **** **** " + cardNo[len(cardNo)-4:]
}

// MaskName 姓名脱敏，仅保留首字
func MaskName(name string) string {
	n := utf8.RuneCountInString(name)
	if n <= 1 {
		return name
	}
	first, _ := utf8.DecodeRuneInString(name)
	masked := string(first)
	for i := 1; i < n; i++ {
		masked += "*"
	}
	return masked
}
