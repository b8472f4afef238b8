package training

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vk/trainspec/internal/fsutil"
)

func (d *TrainModel) path(name string) string {
	return filepath.Join(d.c.OutputDir, name)
}

// formatFloat renders undefined scores as NA.
func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func appendRow(path string, columns ...string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := fmt.Fprintln(f, strings.Join(columns, "\t")); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// writeTable atomically replaces path with the rows produced by fill.
func writeTable(path string, fill func(w *bufio.Writer)) error {
	var sb strings.Builder
	w := bufio.NewWriter(&sb)
	fill(w)
	if err := w.Flush(); err != nil {
		return err
	}
	if err := fsutil.AtomicWrite(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func writePerformance(path string, features, metricNames []string, perFeature map[string]map[string]float64) error {
	return writeTable(path, func(w *bufio.Writer) {
		fmt.Fprintln(w, strings.Join(append([]string{"feature"}, metricNames...), "\t"))
		for _, feature := range features {
			row := []string{feature}
			scored := false
			for _, name := range metricNames {
				v, ok := perFeature[name][feature]
				if !ok {
					v = math.NaN()
				}
				scored = scored || ok
				row = append(row, formatFloat(v))
			}
			if scored {
				fmt.Fprintln(w, strings.Join(row, "\t"))
			}
		}
	})
}

func writePredictions(path string, cellTypes, features []string, ev *evaluation) error {
	return writeTable(path, func(w *bufio.Writer) {
		fmt.Fprintln(w, strings.Join(append([]string{"row", "cell_type"}, features...), "\t"))
		for i, pred := range ev.preds {
			row := []string{strconv.Itoa(i), cellTypeName(cellTypes, ev.cellTypes[i])}
			for _, v := range pred {
				row = append(row, formatFloat(v))
			}
			fmt.Fprintln(w, strings.Join(row, "\t"))
		}
	})
}

func writeEmbeddings(path string, cellTypes []string, embeddings [][]float64) error {
	return writeTable(path, func(w *bufio.Writer) {
		for i, emb := range embeddings {
			row := []string{cellTypeName(cellTypes, i)}
			for _, v := range emb {
				row = append(row, formatFloat(v))
			}
			fmt.Fprintln(w, strings.Join(row, "\t"))
		}
	})
}

func cellTypeName(names []string, i int) string {
	if i >= 0 && i < len(names) {
		return names[i]
	}
	return strconv.Itoa(i)
}
