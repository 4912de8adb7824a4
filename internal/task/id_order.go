package task

// LessNatural orders task ids the way the scheduler's ready-set sort expects
// (spec §4.C3): numeric runs compare by value, so "2" sorts before "10", not
// lexically after it. Mixed-text ids ("T2" vs "T10") get the same treatment
// on their digit runs; ids that are entirely non-numeric fall back to a
// plain string comparison.
func LessNatural(a, b string) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ca, cb := a[i], b[j]
		if isDigit(ca) && isDigit(cb) {
			numA, nextI := scanNumber(a, i)
			numB, nextJ := scanNumber(b, j)
			if numA != numB {
				return numA < numB
			}
			i, j = nextI, nextJ
			continue
		}
		if ca != cb {
			return ca < cb
		}
		i++
		j++
	}
	return len(a)-i < len(b)-j
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// scanNumber parses the run of digits starting at i and returns its value
// (capped to avoid overflow on pathological input) plus the index past it.
func scanNumber(s string, i int) (int, int) {
	n := 0
	for i < len(s) && isDigit(s[i]) {
		if n < 1<<30 {
			n = n*10 + int(s[i]-'0')
		}
		i++
	}
	return n, i
}
