package tile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLonLatToTile(t *testing.T) {
	assert.Equal(t, uint32(0), LonToTileX(-180, 0))
	assert.Equal(t, uint32(512), LonToTileX(0, 10))
	assert.Equal(t, uint32(1023), LonToTileX(180, 10))
	assert.Equal(t, uint32(512), LatToTileY(-0.0001, 10))
	assert.Equal(t, uint32(511), LatToTileY(0.0001, 10))
	// beyond the mercator limit is clamped, not an error
	assert.Equal(t, uint32(0), LatToTileY(90, 5))
	assert.Equal(t, uint32(31), LatToTileY(-90, 5))
}

func TestTileMathInverse(t *testing.T) {
	for z := uint32(0); z <= MaxZoom; z++ {
		n := uint32(1) << z
		step := max(1, n/97)
		for v := uint32(0); v < n; v += step {
			require.Equal(t, v, LonToTileX(TileXToLon(v, z), z), "x z=%d v=%d", z, v)
			require.Equal(t, v, LatToTileY(TileYToLat(v, z), z), "y z=%d v=%d", z, v)
		}
		require.Equal(t, n-1, LonToTileX(TileXToLon(n-1, z), z))
		require.Equal(t, n-1, LatToTileY(TileYToLat(n-1, z), z))
	}
}

func TestTilesForBoundsCompleteness(t *testing.T) {
	bounds := []Bounds{
		{West: -74.02, South: 40.70, East: -73.93, North: 40.80},
		{West: 2.25, South: 48.81, East: 2.42, North: 48.90},
		{West: -180, South: -90, East: 180, North: 90},
		{West: 179.5, South: -10, East: 180, North: 10},
		{West: 0, South: 1e-9, East: 10, North: 10},
		{West: -10, South: -10, East: 10, North: -1e-9},
	}
	for _, b := range bounds {
		for z := uint32(0); z <= 12; z++ {
			tiles, err := TilesForBounds(b, z)
			require.NoError(t, err)
			count, err := CountTilesForBounds(b, z)
			require.NoError(t, err)
			require.Equal(t, count, uint64(len(tiles)))
			for _, c := range tiles {
				require.True(t, c.Valid())
				require.True(t, TileBounds(c).Intersects(b), "%s does not touch %+v", c, b)
			}
		}
	}
}

func TestLatToTileYJustOffRowEdge(t *testing.T) {
	assert.Equal(t, uint32(0), LatToTileY(1e-9, 1))
	assert.Equal(t, uint32(1), LatToTileY(0, 1))
	assert.Equal(t, uint32(1), LatToTileY(-1e-9, 1))

	tiles, err := TilesForBounds(Bounds{West: 0, South: 1e-9, East: 10, North: 10}, 1)
	require.NoError(t, err)
	assert.Equal(t, []Coord{{Z: 1, X: 1, Y: 0}}, tiles)
}

func TestTilesForBoundsRowMajor(t *testing.T) {
	r := Range{Z: 3, MinX: 1, MaxX: 2, MinY: 4, MaxY: 5}
	assert.Equal(t, []Coord{
		{Z: 3, X: 1, Y: 4}, {Z: 3, X: 2, Y: 4},
		{Z: 3, X: 1, Y: 5}, {Z: 3, X: 2, Y: 5},
	}, r.Tiles())
	assert.Equal(t, uint64(4), r.Count())
	assert.True(t, r.Contains(Coord{Z: 3, X: 2, Y: 5}))
	assert.False(t, r.Contains(Coord{Z: 4, X: 2, Y: 5}))
}

func TestRangeForBoundsRejectsZoom(t *testing.T) {
	_, err := TilesForBounds(Bounds{West: 0, South: 0, East: 1, North: 1}, MaxZoom+1)
	require.ErrorIs(t, err, ErrZoomOutOfRange)
	_, err = CountTilesForBounds(Bounds{West: 0, South: 0, East: 1, North: 1}, MaxZoom+1)
	require.ErrorIs(t, err, ErrZoomOutOfRange)
}

func TestWholeWorld(t *testing.T) {
	world := Bounds{West: -180, South: -90, East: 180, North: 90}
	for z := uint32(0); z <= 8; z++ {
		n, err := CountTilesForBounds(world, z)
		require.NoError(t, err)
		assert.Equal(t, uint64(1)<<(2*z), n)
	}
}

func TestBoundsHelpers(t *testing.T) {
	a := Bounds{West: 0, South: 0, East: 10, North: 10}
	b := Bounds{West: 5, South: -5, East: 20, North: 5}
	assert.True(t, a.Valid())
	assert.False(t, Bounds{West: 1, South: 0, East: 1, North: 1}.Valid())
	assert.Equal(t, Bounds{West: 0, South: -5, East: 20, North: 10}, a.Union(b))
	assert.True(t, a.Intersects(b))
	c := a.Center()
	assert.InDelta(t, 5.0, c.Lon(), 1e-12)
	assert.InDelta(t, 5.0, c.Lat(), 1e-12)
	assert.Equal(t, a, BoundsFromOrb(a.Bound()))
}
