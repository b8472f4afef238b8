package genomics

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/vk/trainspec/internal/component"
	"github.com/vk/trainspec/internal/config"
	"github.com/vk/trainspec/internal/ctxlog"
	"github.com/vk/trainspec/internal/fsutil"
)

// featureNotPresent marks a (cell type, feature) pair without a track.
const featureNotPresent = -1

// EncodeInput are the arguments of genomics.EncodeDataset: the dataset
// file paths plus dataset_args.
type EncodeInput struct {
	ReferenceSequencePath string `conf:"reference_sequence_path,required"`
	TargetPath            string `conf:"target_path,required"`
	DistinctFeaturesPath  string `conf:"distinct_features_path,required"`
	TargetFeaturesPath    string `conf:"target_features_path,required"`
	IntervalsPath         string `conf:"intervals_path,required"`
	// FoldsPath is consumed by the builder to assign cell types to splits.
	FoldsPath string `conf:"folds_path"`

	QuantitativeFeatures bool                     `conf:"quantitative_features"`
	SequenceLength       config.Optional[int]     `conf:"sequence_length"`
	CenterBinToPredict   config.Optional[int]     `conf:"center_bin_to_predict"`
	FeatureThresholds    config.Optional[float64] `conf:"feature_thresholds"`
	Strand               config.Optional[string]  `conf:"strand"`
	PositionSkip         config.Optional[int]     `conf:"position_skip"`
	DebugSize            config.Optional[int]     `conf:"debug_size"`
	// CellWise (default true) serves one sample per (position, cell type).
	// Otherwise a sample carries every distinct feature and no cell type.
	CellWise config.Optional[bool] `conf:"cell_wise"`
	// MultiCellTypeTarget serves one sample per position whose target holds
	// every cell type's features, row by row.
	MultiCellTypeTarget bool `conf:"multi_ct_target"`
	// SamplesMode reads intervals_path as explicit samples: each row is one
	// position whose target covers the whole row.
	SamplesMode bool `conf:"samples_mode"`
}

type interval struct {
	chrom      string
	start, end int
}

// EncodeDataset serves (sequence, cell type, target, mask) samples. In the
// cell-wise layout index i addresses position i / n and cell type i % n,
// where n is the number of cell types of the dataset's split. The other
// layouts serve one sample per position.
type EncodeDataset struct {
	split     component.Split
	reference *Reference
	track     *Track

	cellWise    bool
	multiCT     bool
	samplesMode bool

	distinct       []string
	targetFeatures []string
	// columns name the target vector entries.
	columns      []string
	allCellTypes []string
	// cells are global cell type indices served by this split.
	cells []int
	// featureIdx[cell][f] is the distinct feature index or featureNotPresent.
	featureIdx [][]int

	intervals []interval
	sums      []int

	seqLen       int
	startRadius  int
	endRadius    int
	surround     int
	threshold    float64
	quantitative bool
	strand       string
	skip         int
	limit        int

	transform component.Transform
}

// ParseDistinctFeature splits "cell_type|feature|info" into the feature
// name and the cell type; an info other than "None" is appended to the
// cell type.
func ParseDistinctFeature(s string) (feature, cellType string, err error) {
	parts := strings.Split(s, "|")
	if len(parts) != 3 {
		return "", "", fmt.Errorf("distinct feature %q is not of the form cell_type|feature|info", s)
	}
	cellType = parts[0]
	if parts[2] != "None" {
		cellType += "_" + parts[2]
	}
	return parts[1], cellType, nil
}

func firstColumn(path string) ([]string, error) {
	var out []string
	err := fsutil.ScanRows(path, func(_ int, fields []string) error {
		out = append(out, fields[0])
		return nil
	})
	return out, err
}

func readIntervals(path string) ([]interval, error) {
	var out []interval
	err := fsutil.ScanRows(path, func(_ int, fields []string) error {
		if len(fields) < 3 {
			return fmt.Errorf("expected chrom, start and end, got %d columns", len(fields))
		}
		start, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("start: %w", err)
		}
		end, err := strconv.Atoi(fields[2])
		if err != nil {
			return fmt.Errorf("end: %w", err)
		}
		if end < start {
			return fmt.Errorf("interval end %d before start %d", end, start)
		}
		out = append(out, interval{chrom: fields[0], start: start, end: end})
		return nil
	})
	return out, err
}

// NewEncodeDataset is the constructor registered as genomics.EncodeDataset.
func NewEncodeDataset(ctx context.Context, deps *component.DatasetDeps, in *EncodeInput) (any, error) {
	logger := ctxlog.FromContext(ctx).With("split", deps.Split)

	d := &EncodeDataset{
		split:        deps.Split,
		seqLen:       in.SequenceLength.OrElse(1000),
		threshold:    in.FeatureThresholds.OrElse(0.5),
		quantitative: in.QuantitativeFeatures,
		strand:       in.Strand.OrElse("+"),
		skip:         in.PositionSkip.OrElse(1),
		cellWise:     in.CellWise.OrElse(true),
		multiCT:      in.MultiCellTypeTarget,
		samplesMode:  in.SamplesMode,
		transform:    deps.Transform,
	}
	bin := in.CenterBinToPredict.OrElse(200)
	switch {
	case d.seqLen <= 0 || bin <= 0 || bin > d.seqLen:
		return nil, fmt.Errorf("need 0 < center_bin_to_predict (%d) <= sequence_length (%d)", bin, d.seqLen)
	case d.strand != "+" && d.strand != "-":
		return nil, fmt.Errorf(`strand must be "+" or "-", got %q`, d.strand)
	case d.skip <= 0:
		return nil, fmt.Errorf("position_skip must be positive, got %d", d.skip)
	case d.multiCT && !d.cellWise:
		return nil, errors.New("multi_ct_target needs cell_wise")
	case !d.cellWise && len(deps.CellTypes) > 0:
		return nil, fmt.Errorf("split %s selects cell types, which needs cell_wise", deps.Split)
	}
	d.startRadius = bin / 2
	d.endRadius = bin/2 + bin%2
	d.surround = (d.seqLen - bin) / 2

	var err error
	if d.distinct, err = firstColumn(in.DistinctFeaturesPath); err != nil {
		return nil, fmt.Errorf("read distinct features: %w", err)
	}
	if d.targetFeatures, err = firstColumn(in.TargetFeaturesPath); err != nil {
		return nil, fmt.Errorf("read target features: %w", err)
	}
	if d.intervals, err = readIntervals(in.IntervalsPath); err != nil {
		return nil, fmt.Errorf("read intervals: %w", err)
	}
	if d.samplesMode {
		for i, iv := range d.intervals {
			if iv.end == iv.start {
				return nil, fmt.Errorf("sample %d (%s:%d) is empty", i, iv.chrom, iv.start)
			}
		}
	}
	if err := d.indexFeatures(d.distinct, deps.AllCellTypes); err != nil {
		return nil, err
	}
	if err := d.selectCells(deps.CellTypes); err != nil {
		return nil, err
	}
	d.columns = d.targetColumns()

	positions := len(d.intervals)
	if !d.samplesMode {
		d.sums = make([]int, 1, len(d.intervals)+1)
		for _, iv := range d.intervals {
			d.sums = append(d.sums, d.sums[len(d.sums)-1]+(iv.end-iv.start)/d.skip+1)
		}
		positions = d.sums[len(d.sums)-1]
	}
	d.limit = positions * d.samplesPerPosition()
	if deps.Debug {
		d.limit = min(d.limit, in.DebugSize.OrElse(128))
		logger.Info("Debug mode: truncating dataset.", "samples", d.limit)
	}

	logger.Debug("Loading reference sequence.", "path", in.ReferenceSequencePath)
	if d.reference, err = LoadReference(in.ReferenceSequencePath); err != nil {
		return nil, fmt.Errorf("load reference sequence: %w", err)
	}
	if d.track, err = LoadTrack(in.TargetPath, d.distinct); err != nil {
		return nil, fmt.Errorf("load targets: %w", err)
	}

	logger.Info("Dataset ready.",
		"samples", d.limit,
		"cell_types", len(d.cells),
		"target_features", len(d.targetFeatures),
		"intervals", len(d.intervals),
		"cell_wise", d.cellWise,
		"multi_ct_target", d.multiCT,
	)
	return d, nil
}

// indexFeatures builds the (cell type, target feature) -> distinct
// feature table. The global cell type order is all when given, otherwise
// first appearance in the distinct features list.
func (d *EncodeDataset) indexFeatures(distinct, all []string) error {
	type pair struct {
		feature, cell string
	}
	parsed := make([]pair, len(distinct))
	for i, s := range distinct {
		f, c, err := ParseDistinctFeature(s)
		if err != nil {
			return err
		}
		parsed[i] = pair{f, c}
	}

	d.allCellTypes = slices.Clone(all)
	if len(d.allCellTypes) == 0 {
		for _, p := range parsed {
			if slices.Contains(d.targetFeatures, p.feature) && !slices.Contains(d.allCellTypes, p.cell) {
				d.allCellTypes = append(d.allCellTypes, p.cell)
			}
		}
	}
	cellIndex := make(map[string]int, len(d.allCellTypes))
	for i, c := range d.allCellTypes {
		cellIndex[c] = i
	}

	d.featureIdx = make([][]int, len(d.allCellTypes))
	for c := range d.featureIdx {
		row := make([]int, len(d.targetFeatures))
		for f := range row {
			row[f] = featureNotPresent
		}
		d.featureIdx[c] = row
	}
	for di, p := range parsed {
		f := slices.Index(d.targetFeatures, p.feature)
		c, ok := cellIndex[p.cell]
		if f < 0 || !ok {
			continue
		}
		d.featureIdx[c][f] = di
	}
	return nil
}

func (d *EncodeDataset) selectCells(names []string) error {
	if len(names) == 0 {
		d.cells = make([]int, len(d.allCellTypes))
		for i := range d.cells {
			d.cells[i] = i
		}
		return nil
	}
	for _, name := range names {
		i := slices.Index(d.allCellTypes, name)
		if i < 0 {
			return fmt.Errorf("cell type %q of split %s is not a known cell type", name, d.split)
		}
		d.cells = append(d.cells, i)
	}
	return nil
}

// targetColumns names the entries of the target vector.
func (d *EncodeDataset) targetColumns() []string {
	switch {
	case !d.cellWise:
		return slices.Clone(d.distinct)
	case d.multiCT:
		out := make([]string, 0, len(d.allCellTypes)*len(d.targetFeatures))
		for _, cell := range d.allCellTypes {
			for _, f := range d.targetFeatures {
				out = append(out, cell+"|"+f)
			}
		}
		return out
	default:
		return d.targetFeatures
	}
}

func (d *EncodeDataset) samplesPerPosition() int {
	if d.cellWise && !d.multiCT {
		return len(d.cells)
	}
	return 1
}

// Len implements component.Dataset.
func (d *EncodeDataset) Len() int { return d.limit }

// CellTypes implements component.Dataset; it returns the global order.
func (d *EncodeDataset) CellTypes() []string { return d.allCellTypes }

// TargetFeatures implements component.Dataset. Its entries name the
// target vector: the target features, the distinct features when not cell
// wise, or "cell_type|feature" per cell type for multi cell type targets.
func (d *EncodeDataset) TargetFeatures() []string { return d.columns }

// window is where a sample reads its target (bin) and sequence.
type window struct {
	chrom            string
	binStart, binEnd int
	seqStart, seqEnd int
}

// locate translates a dataset index into a window and a global cell type
// index, or -1 when samples do not belong to one cell type.
func (d *EncodeDataset) locate(idx int) (window, int) {
	per := d.samplesPerPosition()
	cell := -1
	if d.cellWise && !d.multiCT {
		cell = d.cells[idx%per]
	}
	posIdx := idx / per

	if d.samplesMode {
		iv := d.intervals[posIdx]
		// Pad or trim the sample to the sequence length, extra base on the right.
		extra := d.seqLen - (iv.end - iv.start)
		half := extra / 2
		if extra < 0 && extra%2 != 0 {
			half--
		}
		return window{
			chrom:    iv.chrom,
			binStart: iv.start,
			binEnd:   iv.end,
			seqStart: iv.start - half,
			seqEnd:   iv.end + extra - half,
		}, cell
	}

	k := sort.SearchInts(d.sums, posIdx+1) - 1
	iv := d.intervals[k]
	offset := (posIdx-d.sums[k])*d.skip + d.skip/2
	offset = min(offset, iv.end-iv.start)
	pos := iv.start + offset
	w := window{chrom: iv.chrom, binStart: pos - d.startRadius, binEnd: pos + d.endRadius}
	w.seqStart = w.binStart - d.surround
	w.seqEnd = w.binEnd + d.surround
	return w, cell
}

// Get implements component.Dataset. It returns nil for positions whose
// sequence window cannot be retrieved.
func (d *EncodeDataset) Get(idx int, rng *rand.Rand) (*component.Sample, error) {
	if idx < 0 || idx >= d.limit {
		return nil, fmt.Errorf("index %d out of range [0, %d)", idx, d.limit)
	}
	w, cell := d.locate(idx)

	seq := d.reference.Encode(w.chrom, w.seqStart, w.seqEnd, d.strand)
	if len(seq) != d.seqLen*component.Channels {
		return nil, nil
	}

	coverage, mean := d.track.Query(w.chrom, w.binStart, w.binEnd)
	value := func(di int) float64 {
		switch {
		case d.quantitative:
			return mean[di]
		case coverage[di] >= d.threshold:
			return 1
		}
		return 0
	}

	target := make([]float64, len(d.columns))
	mask := make([]float64, len(d.columns))
	switch {
	case !d.cellWise:
		for di := range d.distinct {
			target[di] = value(di)
			mask[di] = 1
		}
	case d.multiCT:
		nf := len(d.targetFeatures)
		for _, c := range d.cells {
			for f, di := range d.featureIdx[c] {
				if di == featureNotPresent {
					continue
				}
				target[c*nf+f] = value(di)
				mask[c*nf+f] = 1
			}
		}
	default:
		for f, di := range d.featureIdx[cell] {
			if di == featureNotPresent {
				continue
			}
			target[f] = value(di)
			mask[f] = 1
		}
	}

	s := &component.Sample{Sequence: seq, CellType: cell, Target: target, Mask: mask}
	if d.transform != nil {
		s = d.transform.Apply(s, rng)
	}
	return s, nil
}
