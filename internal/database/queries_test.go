package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_clampLimit(t *testing.T) {
	tcases := []struct {
		name     string
		limit    int
		expected int
	}{
		{name: "zero uses default", limit: 0, expected: defaultMessageLimit},
		{name: "negative uses default", limit: -5, expected: defaultMessageLimit},
		{name: "within range", limit: 10, expected: 10},
		{name: "above max", limit: maxMessageLimit + 1, expected: maxMessageLimit},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, clampLimit(tc.limit, defaultMessageLimit, maxMessageLimit))
		})
	}
}

func Test_migrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	assert.NoError(t, err, "expected migrations directory to be embedded")

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "000001_init.up.sql")
	assert.Contains(t, names, "000001_init.down.sql")
}
