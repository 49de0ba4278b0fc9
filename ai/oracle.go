// Package ai is the boundary to language models: the Oracle interface,
// API-key rotation, and lenient decoding of JSON replies.
package ai

import (
	"context"
	"strings"
	"sync/atomic"
)

// Oracle answers a prompt with free text
type Oracle interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// KeyedOracle accepts a per-call API key, used for key rotation
type KeyedOracle interface {
	Oracle
	CompleteWithKey(ctx context.Context, apiKey, prompt string) (string, error)
}

// OracleFunc adapts a function to Oracle
type OracleFunc func(ctx context.Context, prompt string) (string, error)

// Complete calls f
func (f OracleFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// KeySelector hands out API keys
type KeySelector interface {
	Next() string
}

// RoundRobinKeys rotates through a fixed key list. Safe for concurrent use.
type RoundRobinKeys struct {
	keys []string
	next atomic.Uint64
}

// NewRoundRobinKeys drops blank keys. With no keys left Next returns "".
func NewRoundRobinKeys(keys []string) *RoundRobinKeys {
	r := &RoundRobinKeys{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			r.keys = append(r.keys, k)
		}
	}
	return r
}

// Next returns the following key
func (r *RoundRobinKeys) Next() string {
	if len(r.keys) == 0 {
		return ""
	}
	n := r.next.Add(1) - 1
	return r.keys[n%uint64(len(r.keys))]
}

// Len is the number of usable keys
func (r *RoundRobinKeys) Len() int {
	return len(r.keys)
}

// CompleteWith uses a rotated key when the oracle takes one, else the oracle's own key
func CompleteWith(ctx context.Context, o Oracle, keys KeySelector, prompt string) (string, error) {
	if keys != nil {
		if ko, ok := o.(KeyedOracle); ok {
			if key := keys.Next(); key != "" {
				return ko.CompleteWithKey(ctx, key, prompt)
			}
		}
	}
	return o.Complete(ctx, prompt)
}
