// Package logic contains the runtime decision making used by the ad
// engine: user agent classification, client fingerprinting, blocklists,
// flight targeting and pacing. Everything here is pure computation plus
// reads from Redis; persistence belongs to the offers and db packages.
package logic

import "errors"

// ErrNilRedisStore indicates that the Redis-backed store was not configured.
var ErrNilRedisStore = errors.New("redis store is nil")
