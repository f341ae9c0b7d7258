// Package shard provides partition key generation for DynamoDB guard rows.
package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// UniqueConstraintPK computes a hash-distributed partition key for one unique
// index entry. Values are length-prefixed so that no two value tuples share
// an encoding.
func UniqueConstraintPK(table, index string, values []string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s#%s", table, index)
	for _, v := range values {
		fmt.Fprintf(h, "#%d:%s", len(v), v)
	}
	return hex.EncodeToString(h.Sum(nil)[:16]) // 128-bit hash as hex
}
