package keyboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlineButtonsOnePerRow(t *testing.T) {
	markup := InlineButtons([]InlineBtn{
		{Text: "Apply", Unique: "request_loan"},
		{Text: "Terms", Unique: "loan_terms"},
	})
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Equal(t, "Apply", markup.InlineKeyboard[0][0].Text)
	assert.Equal(t, "loan_terms", markup.InlineKeyboard[1][0].Unique)
}

func TestInlineButtonsRows(t *testing.T) {
	markup := InlineButtonsRows(
		[]InlineBtn{{Text: "Yes", Unique: "confirm_loan"}, {Text: "No", Unique: "restart_loan"}},
	)
	require.Len(t, markup.InlineKeyboard, 1)
	require.Len(t, markup.InlineKeyboard[0], 2)
	assert.Equal(t, "restart_loan", markup.InlineKeyboard[0][1].Unique)
}
