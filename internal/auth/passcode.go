package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	passcodeMin = 100000
	passcodeMax = 999999
)

// PasscodeGenerator returns a fresh passcode.
type PasscodeGenerator func() (string, error)

// RandomPasscode draws a uniformly distributed six digit code in
// [100000, 999999] from crypto/rand.
func RandomPasscode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(passcodeMax-passcodeMin+1))
	if err != nil {
		return "", fmt.Errorf("auth: generate passcode: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+passcodeMin), nil
}

// ValidPasscodeFormat reports whether code has the six digit printable form.
func ValidPasscodeFormat(code string) bool {
	if len(code) != 6 || code[0] == '0' {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
