package ethutil

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ParseAddress parses one hex address. name is used in error messages
// (usually the env var or flag the value came from). The zero address is
// rejected.
func ParseAddress(name, raw string) (common.Address, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return common.Address{}, fmt.Errorf("%s required", name)
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid %s %q", name, raw)
	}
	addr := common.HexToAddress(s)
	if (addr == common.Address{}) {
		return common.Address{}, fmt.Errorf("%s must not be the zero address", name)
	}
	return addr, nil
}

// ParseAddressList parses a list of hex addresses from a single string.
//
// Supported separators: commas, semicolons and whitespace. Duplicates are
// dropped (first occurrence wins).
//
// Returns (nil, nil) if raw is empty/whitespace.
func ParseAddressList(raw string) ([]common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}

	parts := strings.FieldsFunc(trimmed, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\n', '\r', '\t':
			return true
		default:
			return false
		}
	})

	out := make([]common.Address, 0, len(parts))
	seen := make(map[common.Address]struct{}, len(parts))
	for _, part := range parts {
		if !common.IsHexAddress(part) {
			return nil, fmt.Errorf("invalid hex address %q in %q", part, raw)
		}
		addr := common.HexToAddress(part)
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out, nil
}

func AddressSet(addrs []common.Address) map[common.Address]struct{} {
	out := make(map[common.Address]struct{}, len(addrs))
	for _, a := range addrs {
		out[a] = struct{}{}
	}
	return out
}

func JoinHex(addrs []common.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.Hex())
	}
	return strings.Join(parts, ",")
}
