package genomics

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/vk/trainspec/internal/component"
)

// Reference is an in-memory FASTA genome.
type Reference struct {
	chroms map[string][]byte
}

var (
	refMu    sync.Mutex
	refCache = make(map[string]*Reference)
	refGroup singleflight.Group
)

// LoadReference parses a FASTA file. Parsed references are cached by
// absolute path for the lifetime of the process, so the train, validation
// and test datasets share one copy.
func LoadReference(path string) (*Reference, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	refMu.Lock()
	ref, ok := refCache[abs]
	refMu.Unlock()
	if ok {
		return ref, nil
	}

	v, err, _ := refGroup.Do(abs, func() (any, error) {
		ref, err := parseFASTA(abs)
		if err != nil {
			return nil, err
		}
		refMu.Lock()
		refCache[abs] = ref
		refMu.Unlock()
		return ref, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Reference), nil
}

func parseFASTA(path string) (*Reference, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ref := &Reference{chroms: make(map[string][]byte)}
	var name string
	var buf []byte
	flush := func() {
		if name != "" {
			ref.chroms[name] = buf
		}
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, ">") {
			flush()
			fields := strings.Fields(line[1:])
			if len(fields) == 0 {
				return nil, fmt.Errorf("%s:%d: FASTA header without a name", path, lineNo)
			}
			name = fields[0]
			if _, dup := ref.chroms[name]; dup {
				return nil, fmt.Errorf("%s:%d: duplicate sequence %q", path, lineNo, name)
			}
			buf = nil
			continue
		}
		if name == "" {
			return nil, fmt.Errorf("%s:%d: sequence data before the first header", path, lineNo)
		}
		buf = append(buf, strings.ToUpper(line)...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	flush()
	if len(ref.chroms) == 0 {
		return nil, fmt.Errorf("%s: no sequences", path)
	}
	return ref, nil
}

// ChromLen returns the length of a sequence and whether it exists.
func (r *Reference) ChromLen(chrom string) (int, bool) {
	s, ok := r.chroms[chrom]
	return len(s), ok
}

// maxAmbiguous is the largest fraction of N bases a window may contain.
const maxAmbiguous = 0.3

// Encode returns the position-major one-hot encoding of [start, end) on
// the given strand, with unknown bases encoded as 0.25 in every channel.
// It returns nil when the window leaves the sequence or is mostly
// ambiguous.
func (r *Reference) Encode(chrom string, start, end int, strand string) []float64 {
	seq, ok := r.chroms[chrom]
	if !ok || start < 0 || end > len(seq) || start >= end {
		return nil
	}
	n := end - start
	out := make([]float64, n*component.Channels)
	ambiguous := 0
	for i := 0; i < n; i++ {
		pos := start + i
		slot := i
		base := seq[pos]
		if strand == "-" {
			slot = n - 1 - i
			base = complement(base)
		}
		c := channelOf(base)
		if c < 0 {
			ambiguous++
			for k := 0; k < component.Channels; k++ {
				out[slot*component.Channels+k] = 0.25
			}
			continue
		}
		out[slot*component.Channels+c] = 1
	}
	if float64(ambiguous) > maxAmbiguous*float64(n) {
		return nil
	}
	return out
}

func channelOf(b byte) int {
	switch b {
	case 'A':
		return 0
	case 'C':
		return 1
	case 'G':
		return 2
	case 'T':
		return 3
	}
	return -1
}

func complement(b byte) byte {
	switch b {
	case 'A':
		return 'T'
	case 'C':
		return 'G'
	case 'G':
		return 'C'
	case 'T':
		return 'A'
	}
	return b
}
