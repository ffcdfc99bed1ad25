// Package ratelimit paces outbound requests.
//
// TokenBucket bounds the catalog request rate when a per-minute budget is
// configured. JitterDelay implements the randomized pause a download worker
// takes after each successful package fetch.
package ratelimit
