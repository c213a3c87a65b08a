package services

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentAddress 计算源 URL 的内容寻址键（十六进制 SHA-256）。
// 同一 URL 永远映射到同一条缓存记录，这是整条管线的去重不变量。
func ContentAddress(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}
