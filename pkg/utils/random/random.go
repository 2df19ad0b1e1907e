package random

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
)

const letters = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Code returns an upper-case invite code without ambiguous characters.
func Code(length int) string {
	return pickFromSet(letters, length)
}

// Hex returns length lowercase hex characters.
func Hex(length int) string {
	if length <= 0 {
		return ""
	}
	buf := make([]byte, (length+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return pickFromSet("0123456789abcdef", length)
	}
	return hex.EncodeToString(buf)[:length]
}

// Intn returns a uniform value in [0, n) from crypto/rand.
func Intn(n int) int {
	if n <= 1 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return int(v.Int64())
}

func pickFromSet(set string, length int) string {
	if length <= 0 {
		return ""
	}
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		out[i] = set[Intn(len(set))]
	}
	return string(out)
}
