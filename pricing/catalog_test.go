package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testCatalog() *Catalog {
	return NewCatalog(
		[]Product{{ID: "vps-s", Name: "VPS S", BaseCents: 599, Cores: 2, RAMMB: 4096, DiskGB: 80}},
		[]Region{
			{Code: "EU", Name: "Europe", AdjustmentCents: 0},
			{Code: "US-east", Name: "US East", AdjustmentCents: 100},
		},
		[]Image{
			{ID: "debian-12", Name: "Debian 12", AdjustmentCents: 0},
			{ID: "win2022", Name: "Windows Server 2022", AdjustmentCents: 1500},
		},
	)
}

func TestQuoteBreakdown(t *testing.T) {
	c := testCatalog()

	q, err := c.Quote("vps-s", "US-east", "win2022")
	require.NoError(t, err)
	require.Equal(t, int64(599), q.BaseCents)
	require.Equal(t, int64(100), q.RegionCents)
	require.Equal(t, int64(1500), q.OSCents)
	require.Equal(t, int64(2199), q.TotalCents())
	require.Equal(t, "win2022", q.ImageID)
}

func TestQuoteForMonthsKeepsBreakdownConsistent(t *testing.T) {
	c := testCatalog()

	q, err := c.Quote("vps-s", "US-east", "win2022")
	require.NoError(t, err)

	charge := q.ForMonths(3)
	require.Equal(t, int64(1797), charge.BaseCents)
	require.Equal(t, int64(300), charge.RegionCents)
	require.Equal(t, int64(4500), charge.OSCents)
	require.Equal(t, q.TotalCents()*3, charge.TotalCents())
	require.Equal(t, charge.BaseCents+charge.RegionCents+charge.OSCents, charge.TotalCents())
}

func TestQuoteUnknownImageDegradesToUnset(t *testing.T) {
	c := testCatalog()

	q, err := c.Quote("vps-s", "EU", "does-not-exist")
	require.NoError(t, err)
	require.Equal(t, "", q.ImageID)
	require.Equal(t, int64(0), q.OSCents)
	require.Equal(t, int64(599), q.TotalCents())
}

func TestQuoteUnknownProductOrRegionFails(t *testing.T) {
	c := testCatalog()

	_, err := c.Quote("nope", "EU", "")
	require.Error(t, err)

	_, err = c.Quote("vps-s", "MOON", "")
	require.Error(t, err)
}
