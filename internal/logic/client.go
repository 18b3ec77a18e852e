package logic

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net"
)

// ClientID derives a stable, non-reversible identifier for the browser
// behind a request. The secret keeps the hash unlinkable to raw IPs for
// anyone without it. When both ip and userAgent are empty there is nothing
// to fingerprint, so a random identifier is returned and no two such
// requests collide.
func ClientID(secret, ip, userAgent string) string {
	if ip == "" && userAgent == "" {
		salt := make([]byte, 16)
		if _, err := rand.Read(salt); err == nil {
			ip = hex.EncodeToString(salt)
		}
	}
	h := sha256.New()
	h.Write([]byte(secret))
	h.Write([]byte("advertising-client-id"))
	h.Write([]byte(ip))
	h.Write([]byte(userAgent))
	return hex.EncodeToString(h.Sum(nil))
}

// AnonymizeIP zeroes the low 16 bits of an address before it is persisted.
// IPv4 loses the host portion of a /16, IPv6 the low hextet. Unparseable
// input is returned unchanged so oddball proxies still leave an audit trail.
func AnonymizeIP(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ip
	}
	if v4 := parsed.To4(); v4 != nil {
		v4[2], v4[3] = 0, 0
		return v4.String()
	}
	v6 := parsed.To16()
	v6[14], v6[15] = 0, 0
	return v6.String()
}
