// Package globmatch implements the shell-style wildcard matching used to
// filter archive entries by name.
//
// Unlike path.Match, '*' crosses path separators here: entry names are
// opaque strings to the archive format, and "*.exe" is expected to match
// "sub/dir/app.exe". This diverges deliberately from the standard
// library's path-aware glob, so it is implemented directly rather than
// reached for from path.Match or a doublestar-style dependency.
package globmatch

// Match reports whether name matches the fnmatch-style pattern: '*' matches
// any sequence of characters (including none), '?' matches exactly one
// character, and any other character matches itself literally. Matching is
// case-sensitive and path separators receive no special treatment.
func Match(pattern, name string) bool {
	return match(pattern, name)
}

// match is a classic greedy-with-backtrack glob matcher: it walks pattern
// and name in lockstep, and on seeing '*' remembers a restart point so it
// can retry with progressively more of name consumed if a later literal
// mismatch forces a backtrack.
func match(pattern, name string) bool {
	var pi, ni int
	var starPi, starNi int = -1, -1

	for ni < len(name) {
		if pi < len(pattern) {
			switch pattern[pi] {
			case '?':
				pi++
				ni++
				continue
			case '*':
				starPi = pi
				starNi = ni
				pi++
				continue
			default:
				if pattern[pi] == name[ni] {
					pi++
					ni++
					continue
				}
			}
		}
		// Mismatch (or pattern exhausted): fall back to the most
		// recent '*' and let it absorb one more character.
		if starPi >= 0 {
			pi = starPi + 1
			starNi++
			ni = starNi
			continue
		}
		return false
	}

	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}

	return pi == len(pattern)
}
