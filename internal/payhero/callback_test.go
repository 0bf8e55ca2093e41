package payhero

import (
	"testing"

	"github.com/AlekSi/pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kopakash/loanbot/internal/loan"
)

func TestParseCallbackFlat(t *testing.T) {
	obs, err := ParseCallback([]byte(`{"external_reference":"KOP-42-1","status":"success","transaction_id":"QKL123"}`))
	require.NoError(t, err)
	assert.Equal(t, "KOP-42-1", obs.Reference)
	assert.Equal(t, loan.PaymentConfirmed, obs.Status)
	assert.Equal(t, "QKL123", pointer.GetString(obs.TransactionID))

	obs, err = ParseCallback([]byte(`{"external_reference":"KOP-42-1","status":"QUEUED","checkout_request_id":"ws_CO_1"}`))
	require.NoError(t, err)
	assert.Equal(t, loan.PaymentPending, obs.Status)
	assert.Equal(t, "ws_CO_1", pointer.GetString(obs.TransactionID))
}

func TestParseCallbackNested(t *testing.T) {
	body := `{"forward_url":"","status":true,"response":{
		"Amount":120,"CheckoutRequestID":"ws_CO_1","ExternalReference":"KOP-42-1",
		"MerchantRequestID":"m-1","MpesaReceiptNumber":"SAE3YULR0Y","Phone":"+254712345678",
		"ResultCode":0,"ResultDesc":"The service request is processed successfully.","Status":"Success"}}`
	obs, err := ParseCallback([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "KOP-42-1", obs.Reference)
	assert.Equal(t, loan.PaymentConfirmed, obs.Status)
	assert.Equal(t, "SAE3YULR0Y", pointer.GetString(obs.TransactionID))
}

func TestParseCallbackNestedResultCodeOnly(t *testing.T) {
	obs, err := ParseCallback([]byte(`{"response":{"ExternalReference":"KOP-42-1","ResultCode":1032}}`))
	require.NoError(t, err)
	assert.Equal(t, loan.PaymentFailed, obs.Status)

	obs, err = ParseCallback([]byte(`{"response":{"ExternalReference":"KOP-42-1","ResultCode":"0"}}`))
	require.NoError(t, err)
	assert.Equal(t, loan.PaymentConfirmed, obs.Status)
}

func TestParseCallbackRejectsUnknownShapes(t *testing.T) {
	for _, body := range []string{
		`not json`,
		`[]`,
		`{}`,
		`{"status":"success"}`,
		`{"external_reference":""}`,
		`{"response":{"Status":"Success"}}`,
	} {
		_, err := ParseCallback([]byte(body))
		assert.ErrorIs(t, err, ErrInvalidCallback, body)
	}
}
