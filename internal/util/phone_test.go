package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"555-010-0001", "+15550100001"},
		{"(555) 010 0001", "+15550100001"},
		{"1-555-010-0001", "+15550100001"},
		{"+1 555 010 0001", "+15550100001"},
		{"0031 20 555 0100", "+31205550100"},
		{"+4915112345678", "+4915112345678"},
		{"  555.010.0001  ", "+15550100001"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NormalizePhone(c.in), "input %q", c.in)
	}
}
