// Package wazero holds the guest ABI shared by WASM workers: values cross
// the boundary as JSON in guest memory, addressed by a packed pointer and
// length.
package wazero

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// ErrNoAllocator is returned when a guest does not export "allocate".
var ErrNoAllocator = errors.New("wazero: guest does not export allocate")

// PackPtrLen packs a guest pointer and length into one uint64.
func PackPtrLen(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

// UnpackPtrLen splits a packed pointer and length.
func UnpackPtrLen(packed uint64) (ptr, length uint32) {
	//nolint:gosec // WASM pointers and lengths are 32-bit
	return uint32(packed >> 32), uint32(packed)
}

// Read copies the bytes addressed by packed out of guest memory.
func Read(mod api.Module, packed uint64) ([]byte, error) {
	ptr, length := UnpackPtrLen(packed)
	if length == 0 {
		return nil, nil
	}
	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return nil, fmt.Errorf("wazero: read out of range (ptr=%d, len=%d)", ptr, length)
	}
	out := make([]byte, length)
	copy(out, data)
	return out, nil
}

// Write copies data into guest memory obtained from the guest's allocate
// export and returns its packed address.
func Write(ctx context.Context, mod api.Module, data []byte) (uint64, error) {
	if len(data) == 0 {
		return 0, nil
	}
	allocate := mod.ExportedFunction("allocate")
	if allocate == nil {
		return 0, ErrNoAllocator
	}
	res, err := allocate.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("wazero: allocate failed: %w", err)
	}
	ptr := api.DecodeU32(res[0])
	if !mod.Memory().Write(ptr, data) {
		return 0, fmt.Errorf("wazero: write out of range (ptr=%d, len=%d)", ptr, len(data))
	}
	return PackPtrLen(ptr, uint32(len(data))), nil //nolint:gosec // bounded by guest memory
}
