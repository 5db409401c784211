// Package crypto 加密工具单元测试
package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "12345678901234567890123456789012"

func TestNewAES(t *testing.T) {
	for _, key := range []string{"1234567890123456", "123456789012345678901234", testKey} {
		a, err := NewAES(key)
		require.NoError(t, err)
		assert.NotNil(t, a)
	}

	for _, key := range []string{"", "12345", "12345678901234567"} {
		a, err := NewAES(key)
		assert.Equal(t, ErrInvalidKeySize, err)
		assert.Nil(t, a)
	}
}

func TestAES_EncryptDecrypt(t *testing.T) {
	a, err := NewAES(testKey)
	require.NoError(t, err)

	t.Run("往返一致", func(t *testing.T) {
		for _, plain := range []string{"", "6222020200012345678", "招商银行 深圳分行"} {
			cipherText, err := a.Encrypt(plain)
			require.NoError(t, err)
			got, err := a.Decrypt(cipherText)
			require.NoError(t, err)
			assert.Equal(t, plain, got)
		}
	})

	t.Run("相同明文密文不同", func(t *testing.T) {
		c1, _ := a.Encrypt("same")
		c2, _ := a.Encrypt("same")
		assert.NotEqual(t, c1, c2)
	})

	t.Run("密文被篡改", func(t *testing.T) {
		c, _ := a.Encrypt("bank")
		tampered := []byte(c)
		tampered[len(tampered)-2] ^= 1
		_, err := a.Decrypt(string(tampered))
		assert.Error(t, err)
	})

	t.Run("密文过短", func(t *testing.T) {
		_, err := a.Decrypt("AAAA")
		assert.Equal(t, ErrCiphertextShort, err)
	})

	t.Run("非 base64", func(t *testing.T) {
		_, err := a.Decrypt("!!!")
		assert.Error(t, err)
	})

	t.Run("密钥不同无法解密", func(t *testing.T) {
		c, _ := a.Encrypt("bank")
		other, _ := NewAES("abcdefghijklmnopabcdefghijklmnop")
		_, err := other.Decrypt(c)
		assert.Equal(t, ErrDecryptionFailed, err)
	})
}

func TestAES_JSON(t *testing.T) {
	a, err := NewAES(testKey)
	require.NoError(t, err)

	type bankInfo struct {
		BankName string `json:"bank_name"`
		CardNo   string `json:"card_no"`
	}
	in := bankInfo{BankName: "工商银行", CardNo: "6222020200012345678"}

	c, err := a.EncryptJSON(in)
	require.NoError(t, err)

	var out bankInfo
	require.NoError(t, a.DecryptJSON(c, &out))
	assert.Equal(t, in, out)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "138****5678", MaskPhone("13812345678"))
	assert.Equal(t, "123", MaskPhone("123"))
	assert.Equal(t, "6222 **** **** 5678", MaskBankCard("6222020200012345678"))
	assert.Equal(t, "1234", MaskBankCard("1234"))
	assert.Equal(t, "张**", MaskName("张三丰"))
	assert.Equal(t, "李", MaskName("李"))
	assert.Equal(t, "", MaskName(""))
}
