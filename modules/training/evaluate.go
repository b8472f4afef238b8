package training

import (
	"context"
	"fmt"
	"math"

	"github.com/vk/trainspec/internal/component"
	"github.com/vk/trainspec/internal/ctxlog"
)

// evaluation collects the per-sample outputs of one pass.
type evaluation struct {
	preds, targets, masks [][]float64
	cellTypes             []int
	lossSum               float64
}

// Evaluate implements component.Driver. Predictions are scored on the
// targets present for each sample's cell type. The validation split
// appends a row to validation.txt; the test split writes
// test_performance.txt and test_predictions.tsv.
func (d *TrainModel) Evaluate(ctx context.Context, split component.Split, step int) (*component.Scores, error) {
	if d.c == nil {
		return nil, fmt.Errorf("driver is not bound")
	}
	loader := d.c.Loaders[split]
	if loader == nil {
		return nil, fmt.Errorf("no %s loader configured", split)
	}
	logger := ctxlog.FromContext(ctx).With("split", split)

	ev := &evaluation{}
	for chunk := 0; chunk < loader.NumChunks(0); chunk++ {
		err := loader.ForEachBatch(ctx, 0, chunk, func(batch []*component.Sample) error {
			for _, s := range batch {
				pred := d.c.Model.Forward(s)
				loss, _ := d.c.Criterion.Loss(pred, s.Target, s.Mask)
				ev.lossSum += loss
				ev.preds = append(ev.preds, pred)
				ev.targets = append(ev.targets, s.Target)
				ev.masks = append(ev.masks, s.Mask)
				ev.cellTypes = append(ev.cellTypes, s.CellType)
			}
			return ctx.Err()
		})
		if err != nil {
			return nil, fmt.Errorf("evaluate %s, chunk %d: %w", split, chunk, err)
		}
	}

	features := loader.Dataset().TargetFeatures()
	scores := &component.Scores{Loss: math.NaN(), Samples: len(ev.preds)}
	if scores.Samples > 0 {
		scores.Loss = ev.lossSum / float64(scores.Samples)
	}
	scores.Metrics, scores.PerFeature = d.score(features, ev)

	args := []any{"step", step, "samples", scores.Samples, "loss", scores.Loss}
	for _, name := range d.metricNames() {
		args = append(args, name, scores.Metrics[name])
	}
	logger.Info("Evaluated.", args...)

	switch split {
	case component.SplitValidation:
		row := []string{formatFloat(scores.Loss)}
		for _, name := range d.metricNames() {
			row = append(row, formatFloat(scores.Metrics[name]))
		}
		if err := appendRow(d.path(validationStatsFile), row...); err != nil {
			return nil, err
		}
	case component.SplitTest:
		if err := writePerformance(d.path("test_performance.txt"), features, d.metricNames(), scores.PerFeature); err != nil {
			return nil, err
		}
		if err := writePredictions(d.path("test_predictions.tsv"), loader.Dataset().CellTypes(), features, ev); err != nil {
			return nil, err
		}
	}
	d.reporter.Evaluated(split, step, scores)
	return scores, nil
}

// score computes every metric per feature over the unmasked samples and
// averages the defined per-feature scores. Features with fewer positives
// than report_gt_feature_n_positives are skipped.
func (d *TrainModel) score(features []string, ev *evaluation) (map[string]float64, map[string]map[string]float64) {
	overall := make(map[string]float64, len(d.metrics))
	perFeature := make(map[string]map[string]float64, len(d.metrics))
	for name := range d.metrics {
		perFeature[name] = make(map[string]float64)
	}

	for f, feature := range features {
		var pred, target []float64
		positives := 0
		for i := range ev.preds {
			if m := ev.masks[i]; m != nil && m[f] == 0 {
				continue
			}
			pred = append(pred, ev.preds[i][f])
			target = append(target, ev.targets[i][f])
			if ev.targets[i][f] >= 0.5 {
				positives++
			}
		}
		if len(pred) == 0 || positives < d.minPositives {
			continue
		}
		for name, fn := range d.metrics {
			p := pred
			if tr := d.transforms[name]; tr != nil {
				p = make([]float64, len(pred))
				for i, v := range pred {
					p[i] = tr(v)
				}
			}
			if v := fn(p, target); !math.IsNaN(v) {
				perFeature[name][feature] = v
			}
		}
	}

	for name, byFeature := range perFeature {
		overall[name] = math.NaN()
		if len(byFeature) == 0 {
			continue
		}
		var sum float64
		for _, v := range byFeature {
			sum += v
		}
		overall[name] = sum / float64(len(byFeature))
	}
	return overall, perFeature
}
