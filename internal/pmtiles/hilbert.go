package pmtiles

import (
	"fmt"

	"tilearchive/internal/tile"
)

// MaxHilbertZoom is the deepest zoom whose tile ids fit in a uint64.
const MaxHilbertZoom = 31

// zoomBase returns the number of tiles on all zooms below z, sum(4^i, i<z).
func zoomBase(z uint8) uint64 {
	return ((uint64(1) << (2 * uint64(z))) - 1) / 3
}

// ZxyToID maps a tile to its PMTiles id: the position of (x, y) along the
// Hilbert curve of zoom z, offset by the tile count of every lower zoom.
// Ids are zoom-major and spatially local.
func ZxyToID(z uint8, x, y uint32) (uint64, error) {
	if z > MaxHilbertZoom {
		return 0, fmt.Errorf("%w: zoom %d exceeds %d", tile.ErrZoomOutOfRange, z, MaxHilbertZoom)
	}
	n := uint32(1) << z
	if x >= n || y >= n {
		return 0, fmt.Errorf("%w: %d/%d/%d", tile.ErrInvalidCoord, z, x, y)
	}
	var d uint64
	for s := n >> 1; s > 0; s >>= 1 {
		var rx, ry uint32
		if x&s != 0 {
			rx = 1
		}
		if y&s != 0 {
			ry = 1
		}
		d += uint64(s) * uint64(s) * uint64((3*rx)^ry)
		x, y = rotate(n, x, y, rx, ry)
	}
	return zoomBase(z) + d, nil
}

// IDToZxy is the inverse of ZxyToID.
func IDToZxy(id uint64) (z uint8, x, y uint32, err error) {
	for z = 0; z <= MaxHilbertZoom; z++ {
		base := zoomBase(z)
		count := uint64(1) << (2 * uint64(z))
		if id < base+count {
			x, y = hilbertToXY(z, id-base)
			return z, x, y, nil
		}
	}
	return 0, 0, 0, fmt.Errorf("%w: tile id %d exceeds zoom %d", ErrInvalidFormat, id, MaxHilbertZoom)
}

func hilbertToXY(z uint8, d uint64) (x, y uint32) {
	n := uint64(1) << z
	for s := uint64(1); s < n; s <<= 1 {
		rx := uint32(1 & (d >> 1))
		ry := uint32(1 & (d ^ uint64(rx)))
		x, y = rotate(uint32(s), x, y, rx, ry)
		x += uint32(s) * rx
		y += uint32(s) * ry
		d >>= 2
	}
	return x, y
}

func rotate(n, x, y, rx, ry uint32) (uint32, uint32) {
	if ry == 0 {
		if rx == 1 {
			x = n - 1 - x
			y = n - 1 - y
		}
		return y, x
	}
	return x, y
}
