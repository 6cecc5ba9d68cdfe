package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTitleName(t *testing.T) {
	require.Equal(t, "105 - Leading Stocks", TitleName("105 - Leading Stocks | StockCharts.com"))
	require.Equal(t, "Untitled", TitleName("  Untitled "))
	require.Equal(t, "", TitleName(""))
}

func TestSearchTerms(t *testing.T) {
	cases := []struct {
		name string
		want []string
	}{
		{"105 - Leading Stocks", []string{"105", "Leading Stocks"}},
		{"Matt's Hot Stocks - 77", []string{"Matt's Hot Stocks", "77"}},
		{"Leading Stocks", []string{"Leading Stocks"}},
		{"  ", nil},
	}
	for _, c := range cases {
		require.Equal(t, c.want, SearchTerms(c.name), c.name)
	}
}

func TestConstraintClause(t *testing.T) {
	clause, ok := ConstraintClause("105 - Leading Stocks (list #4412)")
	require.True(t, ok)
	require.Equal(t, "AND [CHARTLIST IS $4412]", clause)

	_, ok = ConstraintClause("105 - Leading Stocks")
	require.False(t, ok)
}

func TestCountResults(t *testing.T) {
	cases := []struct {
		text  string
		count int
		ok    bool
	}{
		{"Scan Results\nMatching Results: 17\nDownload", 17, true},
		{"Matching Results:0", 0, true},
		{"Your scan returned 4 results", 4, true},
		{"1 Result", 1, true},
		{"nothing to see", 0, false},
	}
	for _, c := range cases {
		count, ok := CountResults(c.text)
		require.Equal(t, c.count, count, c.text)
		require.Equal(t, c.ok, ok, c.text)
	}
}

func TestArtifactNames(t *testing.T) {
	require.Equal(t, "leading_stocks_candleglance.png", ImageName("leading_stocks"))
	require.Equal(t, "leading_stocks_scan.csv", RecordsName("leading_stocks"))
}
