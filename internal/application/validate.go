package application

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation = errors.New("application: invalid input")
	// ErrDuplicateApplication rejects a second application from a user who completed one.
	ErrDuplicateApplication = errors.New("application: already submitted")
)

// ValidationError describes a rejected field value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Code is picked up by the handler log summary as err_code.
func (e *ValidationError) Code() string { return "validation_" + e.Field }

const (
	FieldFullName = "full_name"
	FieldIDNumber = "id_number"
	FieldPhone    = "phone_number"
	FieldAmount   = "loan_amount"
	FieldReason   = "reason"
)

var (
	idNumberRe = regexp.MustCompile(`^\d{7,9}$`)
	// 0, 254 or +254, then a 7 or 1 network prefix and eight digits.
	kenyanPhoneRe = regexp.MustCompile(`^(?:\+254|254|0)[71]\d{8}$`)
	amountRe      = regexp.MustCompile(`^\d+(?:\.\d+)?$`)
)

// Policy holds the deployment-specific limits for an application.
type Policy struct {
	MinAmount       float64
	MaxAmount       float64
	MinReasonLength int
	// Fee is the processing fee charged after confirmation.
	Fee float64
}

// ValidateFullName requires at least two space separated words.
func ValidateFullName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if len(strings.Fields(name)) < 2 {
		return "", &ValidationError{Field: FieldFullName, Reason: "need first and last name"}
	}
	return name, nil
}

// ValidateIDNumber accepts a Kenyan national ID of 7 to 9 digits.
func ValidateIDNumber(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if !idNumberRe.MatchString(id) {
		return "", &ValidationError{Field: FieldIDNumber, Reason: "expected 7-9 digits"}
	}
	return id, nil
}

// ValidatePhone accepts Kenyan mobile numbers; inner whitespace is dropped.
func ValidatePhone(raw string) (string, error) {
	phone := strings.Join(strings.Fields(raw), "")
	if !kenyanPhoneRe.MatchString(phone) {
		return "", &ValidationError{Field: FieldPhone, Reason: "not a Kenyan mobile number"}
	}
	return phone, nil
}

// ValidateAmount parses raw and checks it against [MinAmount, MaxAmount].
// Thousands separators are tolerated.
func (p Policy) ValidateAmount(raw string) (float64, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if !amountRe.MatchString(clean) {
		return 0, &ValidationError{Field: FieldAmount, Reason: "not a number"}
	}
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil || math.IsInf(v, 0) {
		return 0, &ValidationError{Field: FieldAmount, Reason: "not a number"}
	}
	if v < p.MinAmount || v > p.MaxAmount {
		return 0, &ValidationError{Field: FieldAmount, Reason: "outside allowed range"}
	}
	return v, nil
}

// ValidateReason requires at least MinReasonLength characters after trimming.
func (p Policy) ValidateReason(raw string) (string, error) {
	reason := strings.TrimSpace(raw)
	if utf8.RuneCountInString(reason) < p.MinReasonLength {
		return "", &ValidationError{Field: FieldReason, Reason: "too short"}
	}
	return reason, nil
}
