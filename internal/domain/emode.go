package domain

import "fmt"

// EModeCategory is the protocol's efficiency-mode category for a position.
// Category ids outside the known set decode to EModeUnknown.
type EModeCategory uint8

const (
	EModeNone          EModeCategory = 0
	EModeETHCorrelated EModeCategory = 1
	EModeStablecoins   EModeCategory = 2
	EModeBTCCorrelated EModeCategory = 3
	EModeUnknown       EModeCategory = 255
)

// EModeFromID maps a raw on-chain category id onto the closed enumeration.
func EModeFromID(id uint8) EModeCategory {
	switch EModeCategory(id) {
	case EModeNone, EModeETHCorrelated, EModeStablecoins, EModeBTCCorrelated:
		return EModeCategory(id)
	default:
		return EModeUnknown
	}
}

// Enabled reports whether the position is in any E-Mode category, including
// categories this build does not recognise.
func (c EModeCategory) Enabled() bool {
	return c != EModeNone
}

func (c EModeCategory) String() string {
	switch c {
	case EModeNone:
		return "none"
	case EModeETHCorrelated:
		return "eth_correlated"
	case EModeStablecoins:
		return "stablecoins"
	case EModeBTCCorrelated:
		return "btc_correlated"
	case EModeUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}
