package obsws

import (
	"crypto/sha256"
	"encoding/base64"
)

// DigestBase64 returns the padded standard base64 encoding of the SHA-256
// digest of secret.
func DigestBase64(secret []byte) string {
	sum := sha256.Sum256(secret)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// AuthString derives the Identify authentication value:
//
//	base64(sha256(base64(sha256(password + salt)) + challenge))
func AuthString(password, salt, challenge string) string {
	secret := DigestBase64([]byte(password + salt))
	return DigestBase64([]byte(secret + challenge))
}
