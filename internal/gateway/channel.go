package gateway

import (
	"fmt"
	"strings"
)

// Payment method types understood by the provider API.
const (
	TypeEwallet        = "EWALLET"
	TypeVirtualAccount = "VIRTUAL_ACCOUNT"
	TypeOverTheCounter = "OVER_THE_COUNTER"
	TypeQRCode         = "QR_CODE"
	TypeCard           = "CARD"
	TypeDirectDebit    = "DIRECT_DEBIT"
)

// Channel is a parsed channel key such as EWALLET_GCASH or
// VIRTUAL_ACCOUNT_BPI: the payment method type plus the provider's channel
// code within it.
type Channel struct {
	Key  string
	Type string
	Code string
}

// Display is the human-readable channel name stored on orders and shown in
// payment history, e.g. "GCASH" or "CARD".
func (c Channel) Display() string {
	if c.Code != "" {
		return c.Code
	}
	return c.Type
}

// ParseChannelKey splits a channel key into its method type and channel
// code. Keys follow the TYPE_CODE convention; CARD stands alone.
func ParseChannelKey(key string) (Channel, error) {
	key = strings.ToUpper(strings.TrimSpace(key))

	prefixes := []struct {
		prefix string
		typ    string
	}{
		{"EWALLET_", TypeEwallet},
		{"VIRTUAL_ACCOUNT_", TypeVirtualAccount},
		{"OTC_", TypeOverTheCounter},
		{"QR_CODE_", TypeQRCode},
		{"DIRECT_DEBIT_", TypeDirectDebit},
	}

	for _, p := range prefixes {
		if strings.HasPrefix(key, p.prefix) && len(key) > len(p.prefix) {
			return Channel{Key: key, Type: p.typ, Code: key[len(p.prefix):]}, nil
		}
	}

	switch key {
	case TypeCard:
		return Channel{Key: key, Type: TypeCard}, nil
	case TypeQRCode:
		// Bare QR_CODE defaults to the national QR standard.
		return Channel{Key: key, Type: TypeQRCode, Code: "QRPH"}, nil
	}

	return Channel{}, fmt.Errorf("unknown payment channel key %q", key)
}
