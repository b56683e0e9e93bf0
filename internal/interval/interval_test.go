package interval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMonthly_FullMonths(t *testing.T) {
	got, err := Monthly(date(2025, 1, 1), date(2025, 6, 30))
	require.NoError(t, err)
	require.Len(t, got, 6)
	assert.Equal(t, Interval{date(2025, 1, 1), date(2025, 1, 31)}, got[0])
	assert.Equal(t, Interval{date(2025, 2, 1), date(2025, 2, 28)}, got[1])
	assert.Equal(t, Interval{date(2025, 6, 1), date(2025, 6, 30)}, got[5])
	assert.Equal(t, "2025-02", got[1].Label())
}

func TestMonthly_ClipsPartialMonths(t *testing.T) {
	got, err := Monthly(date(2024, 1, 15), date(2024, 3, 10))
	require.NoError(t, err)
	assert.Equal(t, []Interval{
		{date(2024, 1, 15), date(2024, 1, 31)},
		{date(2024, 2, 1), date(2024, 2, 29)},
		{date(2024, 3, 1), date(2024, 3, 10)},
	}, got)
	assert.Equal(t, "2024-01-15_2024-01-31", got[0].Label())
}

func TestMonthly_SingleDay(t *testing.T) {
	got, err := Monthly(date(2025, 7, 4), date(2025, 7, 4))
	require.NoError(t, err)
	assert.Equal(t, []Interval{{date(2025, 7, 4), date(2025, 7, 4)}}, got)
}

func TestMonthly_Reversed(t *testing.T) {
	_, err := Monthly(date(2025, 2, 1), date(2025, 1, 1))
	assert.ErrorIs(t, err, ErrRange)
}

func TestJuly(t *testing.T) {
	got, err := July(date(2021, 3, 1), date(2023, 1, 1))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, Interval{date(2021, 7, 1), date(2021, 7, 31)}, got[0])
	assert.Equal(t, Interval{date(2023, 7, 1), date(2023, 7, 31)}, got[2])
}

func TestEveryDays(t *testing.T) {
	got, err := EveryDays(10)(date(2025, 1, 1), date(2025, 1, 25))
	require.NoError(t, err)
	assert.Equal(t, []Interval{
		{date(2025, 1, 1), date(2025, 1, 10)},
		{date(2025, 1, 11), date(2025, 1, 20)},
		{date(2025, 1, 21), date(2025, 1, 25)},
	}, got)

	_, err = EveryDays(0)(date(2025, 1, 1), date(2025, 1, 25))
	assert.ErrorIs(t, err, ErrRange)
}

func TestParseDate(t *testing.T) {
	got, err := ParseDate("2025-07-31")
	require.NoError(t, err)
	assert.Equal(t, date(2025, 7, 31), got)

	now = func() time.Time { return time.Date(2025, 8, 2, 17, 30, 0, 0, time.UTC) }
	t.Cleanup(func() { now = time.Now })
	got, err = ParseDate("now")
	require.NoError(t, err)
	assert.Equal(t, date(2025, 8, 2), got)

	_, err = ParseDate("31.07.2025")
	assert.ErrorIs(t, err, ErrRange)
}

func TestParseGenerator(t *testing.T) {
	gen, err := ParseGenerator("days:7")
	require.NoError(t, err)
	got, err := gen(date(2025, 1, 1), date(2025, 1, 14))
	require.NoError(t, err)
	assert.Len(t, got, 2)

	gen, err = ParseGenerator("")
	require.NoError(t, err)
	got, err = gen(date(2025, 1, 1), date(2025, 3, 31))
	require.NoError(t, err)
	assert.Len(t, got, 3)

	for _, bad := range []string{"weekly", "days:x", "days:0"} {
		_, err := ParseGenerator(bad)
		assert.ErrorIs(t, err, ErrRange, bad)
	}
}
