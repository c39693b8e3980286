package deps

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// maxCombinations caps the number of OR-branch combinations explored when
// intersecting ranges that use "||".
const maxCombinations = 256

// versionPattern finds version literals inside a constraint, including
// partial and wildcard forms such as "2", "1.x" and "3.2.*".
var versionPattern = regexp.MustCompile(`v?\d+(?:\.(?:\d+|[xX*]))?(?:\.(?:\d+|[xX*]))?(?:-[0-9A-Za-z.-]+)?(?:\+[0-9A-Za-z.-]+)?`)

// ValidateRange reports whether rng is a usable constraint. An empty range
// means any version.
func ValidateRange(rng string) error {
	if isAny(rng) {
		return nil
	}
	if _, err := semver.NewConstraint(rng); err != nil {
		return fmt.Errorf("%q: %w: %v", rng, ErrInvalidRange, err)
	}
	return nil
}

// Intersect returns a single constraint matched by exactly the versions
// that satisfy every input range. ok is false when no version satisfies all
// of them. Empty inputs mean any version; the result is "" when every input
// is empty.
func Intersect(ranges ...string) (result string, ok bool, err error) {
	var groups [][]string
	for _, r := range ranges {
		if isAny(r) {
			continue
		}
		if err := ValidateRange(r); err != nil {
			return "", false, err
		}
		groups = append(groups, alternatives(r))
	}
	if len(groups) == 0 {
		return "", true, nil
	}

	combos := [][]string{nil}
	for _, alts := range groups {
		var next [][]string
		for _, combo := range combos {
			for _, alt := range alts {
				c := make([]string, len(combo), len(combo)+1)
				copy(c, combo)
				next = append(next, append(c, alt))
			}
		}
		if len(next) > maxCombinations {
			return "", false, fmt.Errorf("intersecting %s: too many alternatives: %w", strings.Join(ranges, " and "), ErrInvalidRange)
		}
		combos = next
	}

	var kept []string
	seen := make(map[string]bool)
	for _, combo := range combos {
		joined := strings.Join(dedupe(combo), " ")
		if seen[joined] {
			continue
		}
		seen[joined] = true
		sat, err := satisfiable(joined)
		if err != nil {
			return "", false, err
		}
		if sat {
			kept = append(kept, joined)
		}
	}
	if len(kept) == 0 {
		return "", false, nil
	}
	return strings.Join(kept, " || "), true, nil
}

// Compatible reports whether a version spec already declared in a project
// manifest overlaps with want. Declared specs that are not semver (tags,
// git URLs, workspace or file references) are left to the user and count
// as compatible.
func Compatible(declared, want string) bool {
	if isAny(want) {
		return true
	}
	declared = strings.TrimSpace(declared)
	if declared == "" {
		return false
	}
	if _, err := semver.NewConstraint(declared); err != nil {
		return true
	}
	_, ok, err := Intersect(declared, want)
	return err == nil && ok
}

// Satisfies reports whether an installed version meets want. An empty want
// accepts any version; a version that is not semver meets nothing else.
func Satisfies(version, want string) bool {
	if isAny(want) {
		return true
	}
	v, err := semver.NewVersion(strings.TrimSpace(version))
	if err != nil {
		return false
	}
	c, err := semver.NewConstraint(want)
	if err != nil {
		return false
	}
	return c.Check(v)
}

// satisfiable probes the boundary versions of an AND-only constraint. The
// lowest version in a non-empty intersection of intervals is always one of
// the comparator endpoints, the successor of one, or 0.0.0, so checking
// those candidates is exhaustive for the comparators semver supports.
func satisfiable(constraint string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("%q: %w: %v", constraint, ErrInvalidRange, err)
	}
	for _, v := range candidates(constraint) {
		if c.Check(v) {
			return true, nil
		}
	}
	return false, nil
}

// candidates returns the probe versions for a constraint string.
func candidates(constraint string) []*semver.Version {
	out := []*semver.Version{semver.MustParse("0.0.0")}
	for _, lit := range versionPattern.FindAllString(constraint, -1) {
		lit = strings.NewReplacer("x", "0", "X", "0", "*", "0").Replace(lit)
		v, err := semver.NewVersion(lit)
		if err != nil {
			continue
		}
		patch := v.IncPatch()
		patch2 := patch.IncPatch()
		minor := v.IncMinor()
		major := v.IncMajor()
		out = append(out, v, &patch, &patch2, &minor, &major)
	}
	return out
}

// alternatives splits a range on "||" into its OR branches.
func alternatives(rng string) []string {
	parts := strings.Split(rng, "||")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}

func isAny(rng string) bool {
	rng = strings.TrimSpace(rng)
	return rng == "" || rng == "*" || rng == "x" || rng == "latest"
}
