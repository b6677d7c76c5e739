package schema

// MinHeaderFields is the number of canonical fields a row must resolve to be
// taken as the header row.
const MinHeaderFields = 3

// DefaultHeaderScan is how many leading rows DetectHeaderRow inspects.
const DefaultHeaderScan = 20

// DetectHeaderRow finds the header row of a grid whose first lines may hold
// titles, export metadata or blank rows. It returns the 0-based index of the
// row that resolves the most canonical fields (earliest wins on a tie) and
// false when no row within maxScan resolves at least MinHeaderFields.
func DetectHeaderRow(grid [][]string, m *Mapper, maxScan int) (int, bool) {
	if maxScan <= 0 {
		maxScan = DefaultHeaderScan
	}

	bestRow, bestCount := -1, 0
	for i := 0; i < len(grid) && i < maxScan; i++ {
		n := m.resolvableCount(grid[i])
		if n > bestCount {
			bestRow, bestCount = i, n
		}
	}
	if bestCount < MinHeaderFields {
		return 0, false
	}
	return bestRow, true
}
