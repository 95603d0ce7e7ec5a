package gather

import (
	"fmt"
	"strconv"
	"time"

	"vertex/internal/domain"
)

// Contract is a parsed OCC option symbol.
type Contract struct {
	Underlying string
	Expiration time.Time
	Type       domain.OptionType
	Strike     float64
}

// ParseOCC parses an OCC contract symbol such as "SPY240621P00450000":
// root, YYMMDD expiration, C/P flag, and strike in thousandths of a dollar.
func ParseOCC(symbol string) (Contract, error) {
	// Root is variable length; the tail is fixed: 6-digit date, 1-char
	// type, 8-digit strike.
	const tailLen = 6 + 1 + 8
	if len(symbol) <= tailLen {
		return Contract{}, fmt.Errorf("occ symbol %q too short", symbol)
	}

	root := symbol[:len(symbol)-tailLen]
	tail := symbol[len(symbol)-tailLen:]

	exp, err := time.Parse("060102", tail[:6])
	if err != nil {
		return Contract{}, fmt.Errorf("occ symbol %q: bad expiration: %w", symbol, err)
	}

	var typ domain.OptionType
	switch tail[6] {
	case 'C':
		typ = domain.OptionCall
	case 'P':
		typ = domain.OptionPut
	default:
		return Contract{}, fmt.Errorf("occ symbol %q: bad type %q", symbol, tail[6])
	}

	raw, err := strconv.ParseInt(tail[7:], 10, 64)
	if err != nil {
		return Contract{}, fmt.Errorf("occ symbol %q: bad strike: %w", symbol, err)
	}
	if raw <= 0 {
		return Contract{}, fmt.Errorf("occ symbol %q: non-positive strike", symbol)
	}

	return Contract{
		Underlying: root,
		Expiration: exp.UTC(),
		Type:       typ,
		Strike:     float64(raw) / 1000,
	}, nil
}
