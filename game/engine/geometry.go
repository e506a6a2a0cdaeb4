package engine

// NormalizeHeading maps any multiple of 90 into [0, 360)
func NormalizeHeading(h int) int {
	return ((h % 360) + 360) % 360
}

// Displacement returns the unit step for a heading.
// Headings that do not normalize to 0, 90, 180 or 270 report ok=false.
func Displacement(heading int) (dRow, dCol int, ok bool) {
	switch NormalizeHeading(heading) {
	case 0:
		return 1, 0, true
	case 90:
		return 0, 1, true
	case 180:
		return -1, 0, true
	case 270:
		return 0, -1, true
	default:
		return 0, 0, false
	}
}

// InBounds reports whether cell lies inside a grid of the given size
func InBounds(cell Cell, size Size) bool {
	return cell.Row >= 0 && cell.Row < size.Rows && cell.Col >= 0 && cell.Col < size.Cols
}
