// Package ratelimit implements a token-bucket throttle for byte
// transfer. One Limiter is owned by exactly one transfer operation;
// uploads and downloads running concurrently each get their own bucket
// so token accounting never crosses streams.
package ratelimit
