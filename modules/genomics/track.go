package genomics

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/vk/trainspec/internal/fsutil"
)

type trackRecord struct {
	start, end int
	feature    int
	value      float64
}

// Track is an interval index over the target file, grouped by chromosome
// and sorted by start.
type Track struct {
	nFeatures int
	byChrom   map[string][]trackRecord
	// maxEnd[chrom][i] is the largest end among records [0, i].
	maxEnd map[string][]int
}

// LoadTrack reads "chrom start end feature [value]" rows. Rows whose
// feature is not in features are ignored; a missing value counts as 1.
func LoadTrack(path string, features []string) (*Track, error) {
	index := make(map[string]int, len(features))
	for i, f := range features {
		index[f] = i
	}
	t := &Track{nFeatures: len(features), byChrom: make(map[string][]trackRecord), maxEnd: make(map[string][]int)}

	err := fsutil.ScanRows(path, func(_ int, fields []string) error {
		if len(fields) < 4 {
			return fmt.Errorf("expected chrom, start, end and feature, got %d columns", len(fields))
		}
		fi, ok := index[fields[3]]
		if !ok {
			return nil
		}
		start, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("start: %w", err)
		}
		end, err := strconv.Atoi(fields[2])
		if err != nil {
			return fmt.Errorf("end: %w", err)
		}
		if end <= start {
			return fmt.Errorf("empty interval [%d, %d)", start, end)
		}
		value := 1.0
		if len(fields) > 4 {
			if value, err = strconv.ParseFloat(fields[4], 64); err != nil {
				return fmt.Errorf("value: %w", err)
			}
		}
		t.byChrom[fields[0]] = append(t.byChrom[fields[0]], trackRecord{start: start, end: end, feature: fi, value: value})
		return nil
	})
	if err != nil {
		return nil, err
	}

	for chrom, recs := range t.byChrom {
		sort.Slice(recs, func(i, j int) bool { return recs[i].start < recs[j].start })
		maxEnd := make([]int, len(recs))
		for i, r := range recs {
			maxEnd[i] = r.end
			if i > 0 && maxEnd[i-1] > r.end {
				maxEnd[i] = maxEnd[i-1]
			}
		}
		t.maxEnd[chrom] = maxEnd
	}
	return t, nil
}

// Query returns, per feature, the fraction of [start, end) covered by the
// feature's records (coverage) and the coverage-weighted mean value over
// the whole window (mean).
func (t *Track) Query(chrom string, start, end int) (coverage, mean []float64) {
	coverage = make([]float64, t.nFeatures)
	mean = make([]float64, t.nFeatures)
	recs := t.byChrom[chrom]
	maxEnd := t.maxEnd[chrom]
	width := float64(end - start)
	if width <= 0 {
		return coverage, mean
	}
	i := sort.Search(len(recs), func(i int) bool { return recs[i].start >= end }) - 1
	for ; i >= 0 && maxEnd[i] > start; i-- {
		r := recs[i]
		overlap := min(r.end, end) - max(r.start, start)
		if overlap <= 0 {
			continue
		}
		coverage[r.feature] += float64(overlap) / width
		mean[r.feature] += r.value * float64(overlap) / width
	}
	for f := range coverage {
		coverage[f] = min(coverage[f], 1)
	}
	return coverage, mean
}
