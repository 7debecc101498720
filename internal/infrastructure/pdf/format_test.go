package pdf

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormatEuro(t *testing.T) {
	cases := map[string]string{
		"0":         "0,00 €",
		"21":        "21,00 €",
		"1234.5":    "1.234,50 €",
		"1000000.1": "1.000.000,10 €",
		"-3":        "-3,00 €",
	}
	for in, want := range cases {
		assert.Equal(t, want, formatEuro(decimal.RequireFromString(in)), in)
	}
}

func TestSplitEvery(t *testing.T) {
	assert.Equal(t, []string{"ABCD", "EFGH", "IJ"}, splitEvery("ABCDEFGHIJ", 4))
	assert.Nil(t, splitEvery("", 4))
}
