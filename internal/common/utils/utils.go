// Package utils 提供通用工具函数
package utils

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
	"time"
)

var (
	phonePattern    = regexp.MustCompile(`^1[3-9]\d{9}$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	bankCardPattern = regexp.MustCompile(`^\d{12,19}$`)
)

// codeCharset 分销码字符集，排除易混淆字符 0OI1
const codeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateSerialNo 生成业务单号
// 格式: 前缀 + 年月日时分秒 + 6位随机数
func GenerateSerialNo(prefix string, now time.Time) string {
	return prefix + now.Format("20060102150405") + GenerateRandomNumber(6)
}

// GenerateRandomNumber 生成指定长度的随机数字字符串
func GenerateRandomNumber(length int) string {
	return randomString("0123456789", length)
}

// GenerateCode 生成大写字母和数字组成的随机码
func GenerateCode(length int) string {
	return randomString(codeCharset, length)
}

func randomString(charset string, length int) string {
	var result strings.Builder
	result.Grow(length)
	size := big.NewInt(int64(len(charset)))
	for i := 0; i < length; i++ {
		n, _ := rand.Int(rand.Reader, size)
		result.WriteByte(charset[n.Int64()])
	}
	return result.String()
}

// ValidatePhone 验证手机号
func ValidatePhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// ValidateEmail 验证邮箱
func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidateBankCard 验证银行卡号，只校验长度和数字
func ValidateBankCard(cardNo string) bool {
	return bankCardPattern.MatchString(cardNo)
}
