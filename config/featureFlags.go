package config

import (
	"os"
	"strconv"
	"strings"
)

// ReceiveLegacyVariantFallback controls whether warehouse receive may fall back
// to the order's single variant when scanned codes carry no variant information
// (pre-variant legacy batches). Defaults to enabled.
//
// Set via env:
// - QR_RECEIVE_LEGACY_VARIANT_FALLBACK=false
func ReceiveLegacyVariantFallback() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("QR_RECEIVE_LEGACY_VARIANT_FALLBACK")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// QrBatchChunkSize overrides the unit-code insert chunk size.
//
// Set via env:
// - QR_BATCH_CHUNK_SIZE=2000
func QrBatchChunkSize(def int) int {
	v := strings.TrimSpace(os.Getenv("QR_BATCH_CHUNK_SIZE"))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
