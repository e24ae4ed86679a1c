package certificate

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// Verification code formats
const (
	CodeAlnum         = "alnum"
	CodeUpperDigits   = "upper-digits"
	CodeDigitsHyphens = "digits-hyphens"
)

const (
	alnumChars       = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	upperDigitsChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	digitChars       = "0123456789"
	codeLength       = 10
)

// CodeFormats lists the supported code formats
var CodeFormats = []string{CodeAlnum, CodeUpperDigits, CodeDigitsHyphens}

// NewCode generates a random verification code in the given format
func NewCode(format string) (string, error) {
	switch format {
	case "", CodeAlnum:
		return randomString(alnumChars, codeLength)
	case CodeUpperDigits:
		return randomString(upperDigitsChars, codeLength)
	case CodeDigitsHyphens:
		s, err := randomString(digitChars, 12)
		if err != nil {
			return "", err
		}
		return s[0:4] + "-" + s[4:8] + "-" + s[8:12], nil
	}
	return "", fmt.Errorf("unknown code format %q", format)
}

// CodeGenerator returns a generator for format, for use with Store.Issue
func CodeGenerator(format string) func() (string, error) {
	return func() (string, error) {
		return NewCode(format)
	}
}

func randomString(chars string, n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	max := big.NewInt(int64(len(chars)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(chars[idx.Int64()])
	}
	return b.String(), nil
}
