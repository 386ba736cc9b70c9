package facet

import (
	"fmt"
	"strconv"
	"strings"
)

// Release is a dataset publication version of the form vYYYYMMDD.
type Release struct {
	stamp int
}

// ParseRelease accepts vYYYYMMDD and bare YYYYMMDD.
func ParseRelease(s string) (Release, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "v")
	if len(raw) != 8 {
		return Release{}, fmt.Errorf("invalid version %q", s)
	}
	d, err := ParseStart(raw)
	if err != nil {
		return Release{}, fmt.Errorf("invalid version %q", s)
	}
	stamp, _ := strconv.Atoi(raw)
	if d.Precision() != PrecisionDay || stamp <= 0 {
		return Release{}, fmt.Errorf("invalid version %q", s)
	}
	return Release{stamp: stamp}, nil
}

// Compare returns -1, 0 or +1; newer versions compare greater.
func (v Release) Compare(o Release) int { return sign(v.stamp - o.stamp) }

func (v Release) IsZero() bool { return v.stamp == 0 }

func (v Release) String() string {
	if v.stamp == 0 {
		return ""
	}
	return fmt.Sprintf("v%08d", v.stamp)
}
