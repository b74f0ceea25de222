package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChannelKey(t *testing.T) {
	tests := []struct {
		key         string
		wantType    string
		wantCode    string
		wantDisplay string
	}{
		{"EWALLET_GCASH", TypeEwallet, "GCASH", "GCASH"},
		{"EWALLET_PAYMAYA", TypeEwallet, "PAYMAYA", "PAYMAYA"},
		{"VIRTUAL_ACCOUNT_BPI", TypeVirtualAccount, "BPI", "BPI"},
		{"OTC_7ELEVEN", TypeOverTheCounter, "7ELEVEN", "7ELEVEN"},
		{"QR_CODE_QRPH", TypeQRCode, "QRPH", "QRPH"},
		{"QR_CODE", TypeQRCode, "QRPH", "QRPH"},
		{"DIRECT_DEBIT_BPI", TypeDirectDebit, "BPI", "BPI"},
		{"CARD", TypeCard, "", "CARD"},
		{"ewallet_gcash", TypeEwallet, "GCASH", "GCASH"},
		{" EWALLET_GCASH ", TypeEwallet, "GCASH", "GCASH"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			channel, err := ParseChannelKey(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, channel.Type)
			assert.Equal(t, tt.wantCode, channel.Code)
			assert.Equal(t, tt.wantDisplay, channel.Display())
		})
	}
}

func TestParseChannelKeyInvalid(t *testing.T) {
	for _, key := range []string{"", "GCASH", "EWALLET_", "PAYPAL_US", "VIRTUAL_ACCOUNT_"} {
		t.Run("key "+key, func(t *testing.T) {
			_, err := ParseChannelKey(key)
			assert.Error(t, err)
		})
	}
}
