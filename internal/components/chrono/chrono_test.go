package chrono

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunDate(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	cases := []struct {
		at       time.Time
		expected string
	}{
		// 02:30 UTC is still the previous evening in New York
		{at: time.Date(2026, time.February, 8, 2, 30, 0, 0, time.UTC).In(ny), expected: "2026-02-07"},
		{at: time.Date(2026, time.February, 8, 15, 0, 0, 0, ny), expected: "2026-02-08"},
	}

	for _, test := range cases {
		require.Equal(t, test.expected, RunDate(FixedImpl{At: test.at}))
	}
}

func TestNewStandardImplDefaultsZone(t *testing.T) {
	impl, err := NewStandardImpl("")
	require.NoError(t, err)
	require.Equal(t, DefaultZone, impl.Location().String())
	require.Equal(t, impl.Location(), impl.Now().Location())
}
