package betas

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"

	"github.com/aristath/factorfit/internal/modules/factors"
)

// CacheNamespace groups beta matrices inside a shared calculation cache.
const CacheNamespace = "betas"

// Cache is the storage behind Estimator's explicit, caller-controlled cache.
type Cache interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Set(ctx context.Context, namespace, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, namespace, key string) error
	Clear(ctx context.Context, namespace string) error
}

// HashTable derives a deterministic cache key from every input that affects
// the estimate: factor order, periods, all series values, asset order, the
// failure policy and the condition limit that separates estimated from
// singular fits. Asset order is significant because it fixes row order.
func HashTable(table *factors.ReturnTable, policy FailurePolicy, conditionLimit float64) string {
	h := sha256.New()
	var buf [8]byte

	writeString := func(s string) {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(s)))
		h.Write(buf[:])
		h.Write([]byte(s))
	}
	writeFloats := func(values []float64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(values)))
		h.Write(buf[:])
		for _, v := range values {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			h.Write(buf[:])
		}
	}

	writeString(string(policy))
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(conditionLimit))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(len(table.Periods)))
	h.Write(buf[:])
	for _, p := range table.Periods {
		binary.LittleEndian.PutUint64(buf[:], uint64(p.UTC().Unix()))
		h.Write(buf[:])
	}
	for _, f := range table.Factors {
		writeString(string(f))
		writeFloats(table.FactorReturns[f])
	}
	writeFloats(table.RiskFree)
	for _, a := range table.Assets {
		writeString(a.ID)
		writeFloats(a.Returns)
	}

	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}
