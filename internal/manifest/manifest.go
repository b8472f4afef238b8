// Package manifest records what a run was built from in run.toml inside
// its output directory.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/klauspost/cpuid/v2"
	"github.com/pelletier/go-toml/v2"

	"github.com/vk/trainspec/internal/builder"
	"github.com/vk/trainspec/internal/fsutil"
)

// FileName is the manifest's name inside the output directory.
const FileName = "run.toml"

// Version of the manifest layout.
const Version = 1

// Manifest describes one run.
type Manifest struct {
	Version   int            `toml:"version"`
	StartedAt time.Time      `toml:"started_at"`
	Ops       []string       `toml:"ops"`
	Seed      int64          `toml:"seed"`
	OutputDir string         `toml:"output_dir"`
	Sources   []string       `toml:"sources"`
	Model     string         `toml:"model"`
	Optimizer string         `toml:"optimizer"`
	Scheduler string         `toml:"scheduler,omitempty"`
	Resume    *Resume        `toml:"resume,omitempty"`
	Params    map[string]any `toml:"params"`
	Host      Host           `toml:"host"`
}

// Resume is the checkpoint a run started from.
type Resume struct {
	File  string `toml:"file"`
	Epoch int    `toml:"epoch"`
	Chunk int    `toml:"chunk"`
	Step  int    `toml:"step"`
}

// Host describes the machine a run executed on.
type Host struct {
	Hostname      string   `toml:"hostname"`
	OS            string   `toml:"os"`
	Arch          string   `toml:"arch"`
	GoVersion     string   `toml:"go_version"`
	CPU           string   `toml:"cpu"`
	Vendor        string   `toml:"vendor"`
	PhysicalCores int      `toml:"physical_cores"`
	LogicalCores  int      `toml:"logical_cores"`
	Features      []string `toml:"features"`
}

// HostInfo probes the current machine.
func HostInfo() Host {
	name, _ := os.Hostname()
	var features []string
	for _, f := range []struct {
		name string
		id   cpuid.FeatureID
	}{
		{"sse4.2", cpuid.SSE42},
		{"avx", cpuid.AVX},
		{"avx2", cpuid.AVX2},
		{"fma3", cpuid.FMA3},
		{"avx512f", cpuid.AVX512F},
		{"asimd", cpuid.ASIMD},
	} {
		if cpuid.CPU.Supports(f.id) {
			features = append(features, f.name)
		}
	}
	return Host{
		Hostname:      name,
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		GoVersion:     runtime.Version(),
		CPU:           cpuid.CPU.BrandName,
		Vendor:        cpuid.CPU.VendorString,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		Features:      features,
	}
}

// FromRunSpec describes spec. started is recorded as the run's start.
func FromRunSpec(spec *builder.RunSpec, started time.Time) *Manifest {
	m := &Manifest{
		Version:   Version,
		StartedAt: started.UTC(),
		Ops:       spec.Ops,
		Seed:      spec.Seed,
		OutputDir: spec.OutputDir,
		Sources:   spec.Sources,
		Model:     spec.ModelName,
		Optimizer: spec.OptimizerClass,
		Scheduler: spec.SchedulerClass,
		Params:    spec.Params,
		Host:      HostInfo(),
	}
	if st := spec.Checkpoint; st != nil && st.Resumed {
		m.Resume = &Resume{File: st.File, Epoch: st.Epoch, Chunk: st.Chunk, Step: st.Step}
	}
	return m
}

// Write stores m as dir/run.toml and returns the file path.
func Write(dir string, m *Manifest) (string, error) {
	blob, err := toml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	path := filepath.Join(dir, FileName)
	if err := fsutil.AtomicWrite(path, blob, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}

// Read loads a manifest written by Write.
func Read(path string) (*Manifest, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := toml.Unmarshal(blob, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	if m.Version > Version {
		return nil, fmt.Errorf("manifest version %d is newer than supported version %d", m.Version, Version)
	}
	return &m, nil
}
