// Package security guards the operation pipeline against replayed, forged
// and flooding requests.
//
// It provides three pieces:
//
//   - NonceCache: a capacity- and TTL-bounded LRU of request nonces. A nonce
//     the cache already holds marks the request as a replay.
//   - KeyStorage: holds the shared HMAC key XOR-masked in memory and signs or
//     verifies payloads with HMAC-SHA256.
//   - Service: composes both with per-player and per-IP token buckets and a
//     ban list, and returns a Result for every incoming request.
//
// Security failures are returned as values and counted in metrics. They are
// never propagated as errors across the network boundary.
//
// Thread-safety: every exported type is safe for concurrent use. Each
// structure is guarded by a single mutex; no operation blocks on I/O.
package security
