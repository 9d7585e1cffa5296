package core

import "github.com/twmb/murmur3"

// normalizedHash buckets an identifier into [1, normalizer] using the same
// 32-bit murmur3 construction the SDK ecosystem uses, so server-side and
// SDK-side evaluation agree on rollout and variant assignment.
func normalizedHash(group, identifier string, normalizer uint32) uint32 {
	if normalizer == 0 {
		return 0
	}
	return murmur3.SeedSum32(0, []byte(group+":"+identifier))%normalizer + 1
}
