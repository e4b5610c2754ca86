package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
)

// OTPLength is the number of digits in a one-time code.
const OTPLength = 6

var otpPattern = regexp.MustCompile(`^[0-9]{6}$`)

// GenerateOTP returns a uniformly random numeric code of OTPLength digits.
// Leading zeros are kept.
func GenerateOTP() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", OTPLength, n.Int64()), nil
}

// ValidOTPFormat reports whether code looks like a one-time code.
func ValidOTPFormat(code string) bool {
	return otpPattern.MatchString(code)
}

// HashOTP returns the SHA-256 hex digest stored in place of the plaintext code.
// The digest is not a password hash; codes are short-lived and single use.
func HashOTP(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// VerifyOTP compares a submitted code against a stored digest in constant time.
func VerifyOTP(code, digest string) bool {
	if digest == "" || !ValidOTPFormat(code) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashOTP(code)), []byte(digest)) == 1
}
