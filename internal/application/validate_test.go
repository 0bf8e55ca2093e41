package application

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePhone(t *testing.T) {
	ok := map[string]string{
		"0712345678":       "0712345678",
		"0112345678":       "0112345678",
		"254712345678":     "254712345678",
		"+254712345678":    "+254712345678",
		" 0712 345 678 ":   "0712345678",
		"+254 112 345 678": "+254112345678",
	}
	for in, want := range ok {
		got, err := ValidatePhone(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	for _, in := range []string{"", "0812345678", "071234567", "07123456789", "+255712345678", "07123abc78"} {
		_, err := ValidatePhone(in)
		assert.ErrorIs(t, err, ErrValidation, in)
	}
}

func TestValidateIDNumber(t *testing.T) {
	for _, in := range []string{"1234567", "12345678", "123456789"} {
		_, err := ValidateIDNumber(in)
		assert.NoError(t, err, in)
	}
	for _, in := range []string{"123456", "1234567890", "12 345 678", "A1234567"} {
		_, err := ValidateIDNumber(in)
		assert.Error(t, err, in)
	}
}

func TestValidateFullName(t *testing.T) {
	got, err := ValidateFullName("  Jane  Doe ")
	require.NoError(t, err)
	assert.Equal(t, "Jane  Doe", got)
	_, err = ValidateFullName("Jane")
	assert.Error(t, err)
}

func TestPolicyValidateAmount(t *testing.T) {
	p := testPolicy()
	for in, want := range map[string]float64{"500": 500, "100000": 100000, "5,000": 5000, "1500.50": 1500.5} {
		got, err := p.ValidateAmount(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	for _, in := range []string{"499.99", "100001", "NaN", "Inf", "", "-500", "5e3", "0x1F4p0", "+500", "500.", ".5e3", "1_000"} {
		_, err := p.ValidateAmount(in)
		assert.Error(t, err, in)
	}
}

func TestPolicyValidateReason(t *testing.T) {
	p := testPolicy()
	_, err := p.ValidateReason("  ab ")
	assert.Error(t, err)
	got, err := p.ValidateReason(" Rent ")
	require.NoError(t, err)
	assert.Equal(t, "Rent", got)
}

func TestValidationErrorCode(t *testing.T) {
	err := &ValidationError{Field: FieldAmount, Reason: "x"}
	assert.Equal(t, "validation_loan_amount", err.Code())
	assert.Contains(t, err.Error(), "loan_amount")
}
