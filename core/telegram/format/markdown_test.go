package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeMarkdownV1(t *testing.T) {
	out, err := EscapeMarkdown("jane_doe *vip* [x]", MarkdownV1)
	require.NoError(t, err)
	assert.Equal(t, `jane\_doe \*vip\* \[x]`, out)
}

func TestEscapeMarkdownV2(t *testing.T) {
	out, err := EscapeMarkdown("KES 1,500.00 (fee)!", MarkdownV2)
	require.NoError(t, err)
	assert.Equal(t, `KES 1,500\.00 \(fee\)\!`, out)
}

func TestEscapeMarkdownUnsupported(t *testing.T) {
	_, err := EscapeMarkdown("x", 3)
	assert.Error(t, err)
}

func TestMD(t *testing.T) {
	assert.Equal(t, "School Fees", MD("School Fees"))
	assert.Equal(t, `a\_b`, MD("a_b"))
}
