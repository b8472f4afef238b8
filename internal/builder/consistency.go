package builder

import (
	"fmt"
	"os"
	"slices"

	"github.com/vk/trainspec/internal/component"
	"github.com/vk/trainspec/internal/config"
	"github.com/vk/trainspec/internal/fsutil"
)

// datasetPathKeys are the dataset file keys passed to the dataset class.
var datasetPathKeys = []string{
	"reference_sequence_path",
	"target_path",
	"distinct_features_path",
	"target_features_path",
	"intervals_path",
	"folds_path",
}

// splitPlan assigns cell types to splits. all is the global order, taken
// from the folds file. A nil split entry means "every cell type".
type splitPlan struct {
	all    []string
	splits map[component.Split][]string
}

// checkConsistency reads only the small dataset files and checks the
// model dimensions against them.
func checkConsistency(doc *config.Document) (*splitPlan, error) {
	dataset := doc.Section("dataset")
	args := doc.Section("model").Mapping("class_args")
	datasetArgs := dataset.Mapping("dataset_args")
	dpath := config.Path{"dataset"}
	mpath := config.Path{"model", "class_args"}

	for _, key := range datasetPathKeys {
		v, ok := dataset.Lookup(key)
		if !ok || config.IsAbsent(v) {
			continue
		}
		p := dataset.StringAt(key)
		if p == "" {
			return nil, inconsistent(dpath.Key(key), "expected a file path, got %s", v.String())
		}
		if _, err := os.Stat(p); err != nil {
			return nil, inconsistent(dpath.Key(key), "%v", err)
		}
	}

	sp := &splitPlan{splits: map[component.Split][]string{component.SplitTrain: nil}}
	var folds map[string]string
	if p := dataset.StringAt("folds_path"); p != "" {
		var err error
		if sp.all, folds, err = readFolds(p); err != nil {
			return nil, inconsistent(dpath.Key("folds_path"), "%v", err)
		}
		if n, ok, err := declaredInt(args, mpath, "n_cell_types"); err != nil {
			return nil, err
		} else if ok && int(n) != len(sp.all) {
			return nil, inconsistent(mpath.Key("n_cell_types"), "model declares %d cell types but %s lists %d", n, p, len(sp.all))
		}
	}

	cellWise, err := declaredBool(datasetArgs, dpath.Key("dataset_args"), "cell_wise", true)
	if err != nil {
		return nil, err
	}
	multiCT, err := declaredBool(datasetArgs, dpath.Key("dataset_args"), "multi_ct_target", false)
	if err != nil {
		return nil, err
	}
	if multiCT && !cellWise {
		return nil, inconsistent(dpath.Key("dataset_args").Key("multi_ct_target"), "multi_ct_target needs cell_wise")
	}

	// The model's output width follows the dataset's target layout.
	widthKey := "target_features_path"
	if !cellWise {
		widthKey = "distinct_features_path"
	}
	if p := dataset.StringAt(widthKey); p != "" {
		rows, err := fsutil.CountRows(p)
		if err != nil {
			return nil, inconsistent(dpath.Key(widthKey), "%v", err)
		}
		n, ok, err := declaredInt(args, mpath, "n_genomic_features")
		switch {
		case err != nil:
			return nil, err
		case !ok:
		case multiCT && sp.all != nil && int(n) != rows*len(sp.all):
			return nil, inconsistent(mpath.Key("n_genomic_features"), "model declares %d genomic features but multi_ct_target serves %d (%d rows of %s for %d cell types)", n, rows*len(sp.all), rows, p, len(sp.all))
		case !multiCT && int(n) != rows:
			return nil, inconsistent(mpath.Key("n_genomic_features"), "model declares %d genomic features but %s has %d rows", n, p, rows)
		}
	}

	modelLen, modelOK, err := declaredInt(args, mpath, "sequence_length")
	if err != nil {
		return nil, err
	}
	dataLen, dataOK, err := declaredInt(datasetArgs, dpath.Key("dataset_args"), "sequence_length")
	if err != nil {
		return nil, err
	}
	if modelOK && dataOK && modelLen != dataLen {
		return nil, inconsistent(mpath.Key("sequence_length"), "model sequence_length %d does not match dataset.dataset_args.sequence_length %d", modelLen, dataLen)
	}

	holdouts := map[component.Split]string{
		component.SplitValidation: "validation_holdout",
		component.SplitTest:       "test_holdout",
	}
	held := make(map[string]component.Split)
	for _, split := range []component.Split{component.SplitValidation, component.SplitTest} {
		key := holdouts[split]
		labels, err := holdoutLabels(dataset, dpath.Key(key))
		if err != nil {
			return nil, err
		}
		if labels == nil {
			continue
		}
		if folds == nil {
			return nil, inconsistent(dpath.Key(key), "holdouts need dataset.folds_path")
		}
		for _, label := range labels {
			if other, dup := held[label]; dup {
				return nil, inconsistent(dpath.Key(key), "fold %q is also held out for %s", label, other)
			}
			held[label] = split
		}
		var cells []string
		for _, cell := range sp.all {
			if slices.Contains(labels, folds[cell]) {
				cells = append(cells, cell)
			}
		}
		for _, label := range labels {
			if !slices.ContainsFunc(sp.all, func(c string) bool { return folds[c] == label }) {
				return nil, inconsistent(dpath.Key(key), "fold %q does not appear in %s", label, dataset.StringAt("folds_path"))
			}
		}
		sp.splits[split] = cells
	}

	if !cellWise && len(held) > 0 {
		return nil, inconsistent(dpath.Key("dataset_args").Key("cell_wise"), "holdouts split cell types and need cell_wise")
	}

	if folds != nil && len(held) > 0 {
		var train []string
		for _, cell := range sp.all {
			if _, out := held[folds[cell]]; !out {
				train = append(train, cell)
			}
		}
		if len(train) == 0 {
			return nil, inconsistent(dpath, "every fold is held out; nothing is left to train on")
		}
		sp.splits[component.SplitTrain] = train
	}
	return sp, nil
}

// readFolds reads "cell_type<TAB>fold" rows. It returns the distinct cell
// types in file order and each one's fold.
func readFolds(path string) ([]string, map[string]string, error) {
	var cells []string
	folds := make(map[string]string)
	err := fsutil.ScanRows(path, func(_ int, fields []string) error {
		if len(fields) < 2 {
			return fmt.Errorf("expected cell_type and fold, got %d columns", len(fields))
		}
		cell, fold := fields[0], fields[1]
		if prev, ok := folds[cell]; ok {
			if prev != fold {
				return fmt.Errorf("cell type %q is assigned to folds %q and %q", cell, prev, fold)
			}
			return nil
		}
		folds[cell] = fold
		cells = append(cells, cell)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(cells) == 0 {
		return nil, nil, fmt.Errorf("%s lists no cell types", path)
	}
	return cells, folds, nil
}

// declaredInt returns an integer argument if the mapping declares one.
func declaredInt(m *config.Mapping, path config.Path, key string) (int64, bool, error) {
	v, ok := m.Lookup(key)
	if !ok || config.IsAbsent(v) {
		return 0, false, nil
	}
	n, ok := intOf(v)
	if !ok {
		return 0, false, inconsistent(path.Key(key), "expected an integer, got %s", v.String())
	}
	return n, true, nil
}

// declaredBool returns a boolean argument, or def when it is not declared.
func declaredBool(m *config.Mapping, path config.Path, key string, def bool) (bool, error) {
	v, ok := m.Lookup(key)
	if !ok || config.IsAbsent(v) {
		return def, nil
	}
	s, ok := v.(config.Scalar)
	b, isBool := s.V.(bool)
	if !ok || !isBool {
		return false, inconsistent(path.Key(key), "expected a boolean, got %s", v.String())
	}
	return b, nil
}

// holdoutLabels reads a sequence of fold labels. Labels may be written as
// strings or numbers; they are compared as text. nil means not configured.
func holdoutLabels(dataset *config.Mapping, path config.Path) ([]string, error) {
	v := dataset.Get(path[len(path)-1])
	if config.IsAbsent(v) {
		return nil, nil
	}
	seq, ok := v.(config.Sequence)
	if !ok {
		return nil, inconsistent(path, "expected a sequence of fold labels, got %s", v.String())
	}
	out := make([]string, 0, len(seq))
	for i, item := range seq {
		s, ok := item.(config.Scalar)
		if !ok {
			return nil, inconsistent(path.Index(i), "expected a fold label, got %s", item.String())
		}
		out = append(out, fmt.Sprint(s.V))
	}
	return out, nil
}
