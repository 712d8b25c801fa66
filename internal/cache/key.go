package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

const maxKeyLength = 128

// KeyFor 将图片 URL 映射为稳定且文件系统安全的缓存 key（SHA-256 十六进制）。
// 同一 URL 永远得到同一 key，不同 URL 几乎不可能碰撞。
func KeyFor(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

// ValidKey reports whether key only contains lowercase hex digits.
func ValidKey(key string) bool {
	if key == "" || len(key) > maxKeyLength {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
