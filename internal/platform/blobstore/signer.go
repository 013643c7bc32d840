package blobstore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Signer produces expiring HMAC signatures for API download links, used
// when the store cannot presign URLs itself.
type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

// Sign returns the hex signature binding id to an expiry.
func (s *Signer) Sign(id string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", id, expiresUnix)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedQuery returns the expires and sig values for a link valid for ttl.
func (s *Signer) SignedQuery(id string, ttl time.Duration) (expires string, sig string) {
	exp := s.now().Add(ttl).Unix()
	return strconv.FormatInt(exp, 10), s.Sign(id, exp)
}

// Validate checks the signature and that the link has not expired.
func (s *Signer) Validate(id, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	if s.now().Unix() > exp {
		return false
	}
	return hmac.Equal([]byte(s.Sign(id, exp)), []byte(signature))
}
