package flagx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	testCases := []struct {
		name     string
		args     []string
		allowed  []string
		expected []string
	}{
		{
			name:     "separate value",
			args:     []string{"-k", "apikey", "-x", "other"},
			allowed:  []string{"-k"},
			expected: []string{"-k", "apikey"},
		},
		{
			name:     "equals form",
			args:     []string{"--config=conf.json", "-d=mirror.db"},
			allowed:  []string{"--config"},
			expected: []string{"--config=conf.json"},
		},
		{
			name:     "bool flag followed by another flag",
			args:     []string{"-m", "-k", "apikey"},
			allowed:  []string{"-m"},
			expected: []string{"-m"},
		},
		{
			name:     "nothing allowed",
			args:     []string{"-a", "b"},
			allowed:  nil,
			expected: []string{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, FilterArgs(tc.args, tc.allowed))
		})
	}
}
