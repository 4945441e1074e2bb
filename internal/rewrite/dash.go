package rewrite

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	adaptationSetRx  = regexp.MustCompile(`(?s)<AdaptationSet\b.*?</AdaptationSet>`)
	representationRx = regexp.MustCompile(`(?s)<Representation\b[^>]*?(?:/>|>.*?</Representation>)`)
	bandwidthRx      = regexp.MustCompile(`\bbandwidth="(\d+)"`)
	representIDRx    = regexp.MustCompile(`\bid="([^"]*)"`)
)

// RewriteDASH keeps only the highest-bandwidth Representation of every
// AdaptationSet in manifest. When ids is non-nil the id of each kept
// representation is appended to it.
func RewriteDASH(manifest string, ids *[]string) string {
	return adaptationSetRx.ReplaceAllStringFunc(manifest, func(set string) string {
		reps := representationRx.FindAllStringIndex(set, -1)
		if len(reps) == 0 {
			return set
		}

		best, bestBandwidth := 0, int64(-1)
		for i, loc := range reps {
			if bw := bandwidthOf(set[loc[0]:loc[1]]); bw > bestBandwidth {
				best, bestBandwidth = i, bw
			}
		}

		if ids != nil {
			kept := set[reps[best][0]:reps[best][1]]
			if m := representIDRx.FindStringSubmatch(kept); m != nil {
				*ids = append(*ids, m[1])
			}
		}

		var b strings.Builder
		last := 0
		for i, loc := range reps {
			if i == best {
				continue
			}
			b.WriteString(set[last:loc[0]])
			last = loc[1]
		}
		b.WriteString(set[last:])
		return b.String()
	})
}

func bandwidthOf(rep string) int64 {
	m := bandwidthRx.FindStringSubmatch(rep)
	if m == nil {
		return 0
	}
	bw, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return bw
}
