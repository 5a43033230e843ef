package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// CacheKey hashes the parts with a separator that cannot appear in model names.
func CacheKey(parts ...string) string {
	return HashString(strings.Join(parts, "\x00"))
}
