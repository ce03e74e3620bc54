// Package device picks the compute device models are placed on and
// describes what each device kind supports.
package device

import (
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// Kind is the closed set of placement targets, in preference order.
type Kind int

const (
	CPU Kind = iota
	Metal
	CUDA
)

func (k Kind) String() string {
	switch k {
	case CUDA:
		return "cuda"
	case Metal:
		return "mps"
	default:
		return "cpu"
	}
}

// ParseKind accepts cuda, mps/metal and cpu. "auto" and "" report ok=false.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cuda", "gpu":
		return CUDA, true
	case "mps", "metal":
		return Metal, true
	case "cpu":
		return CPU, true
	}
	return CPU, false
}

// Provider names the ONNX Runtime execution provider for a device.
type Provider string

const (
	ProviderCPU    Provider = "cpu"
	ProviderCUDA   Provider = "cuda"
	ProviderCoreML Provider = "coreml"
)

// Capabilities is the per-kind feature row consulted by model loaders.
type Capabilities struct {
	Quantization      bool
	Adapter           bool
	BatchedSummarizer bool
	Provider          Provider
	// GPULayers is passed to llama.cpp; -1 offloads every layer.
	GPULayers int
}

var capabilities = map[Kind]Capabilities{
	CUDA:  {Quantization: true, Adapter: true, BatchedSummarizer: true, Provider: ProviderCUDA, GPULayers: -1},
	Metal: {Provider: ProviderCoreML, GPULayers: -1},
	CPU:   {Provider: ProviderCPU},
}

func (k Kind) Capabilities() Capabilities { return capabilities[k] }

// Accelerated reports whether k is a GPU-class device.
func (k Kind) Accelerated() bool { return k != CPU }

// Probes detect device availability. Nil probes report false.
type Probes struct {
	CUDA  func() bool
	Metal func() bool
}

// SystemProbes inspects the host.
func SystemProbes() Probes { return Probes{CUDA: probeCUDA, Metal: probeMetal} }

// Resolver computes the device once and caches it for the process.
type Resolver struct {
	override string
	probes   Probes

	once sync.Once
	kind Kind
}

// NewResolver returns a Resolver. override is a device name or "auto".
func NewResolver(override string, probes Probes) *Resolver {
	return &Resolver{override: override, probes: probes}
}

// Kind returns the resolved device. Detection never fails: CPU is the floor.
func (r *Resolver) Kind() Kind {
	r.once.Do(func() {
		if k, ok := ParseKind(r.override); ok {
			r.kind = k
			return
		}
		switch {
		case r.probes.CUDA != nil && r.probes.CUDA():
			r.kind = CUDA
		case r.probes.Metal != nil && r.probes.Metal():
			r.kind = Metal
		default:
			r.kind = CPU
		}
	})
	return r.kind
}

var (
	defaultOnce     sync.Once
	defaultResolver *Resolver
)

// Resolve returns the process-wide device using system probes.
func Resolve() Kind {
	defaultOnce.Do(func() { defaultResolver = NewResolver("auto", SystemProbes()) })
	return defaultResolver.Kind()
}

func probeCUDA() bool {
	if v, ok := os.LookupEnv("CUDA_VISIBLE_DEVICES"); ok {
		v = strings.TrimSpace(v)
		if v == "" || v == "-1" || strings.EqualFold(v, "none") {
			return false
		}
	}
	if _, err := os.Stat("/proc/driver/nvidia/version"); err == nil {
		return true
	}
	_, err := exec.LookPath("nvidia-smi")
	return err == nil
}

func probeMetal() bool { return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" }

// Info describes the resolved device and host CPU for status endpoints.
type Info struct {
	Device        string   `json:"device"`
	Accelerated   bool     `json:"accelerated"`
	CPUBrand      string   `json:"cpu_brand"`
	PhysicalCores int      `json:"physical_cores"`
	LogicalCores  int      `json:"logical_cores"`
	CPUFeatures   []string `json:"cpu_features,omitempty"`
	OS            string   `json:"os"`
	Arch          string   `json:"arch"`
}

// Describe builds Info for k.
func Describe(k Kind) Info {
	info := Info{
		Device:        k.String(),
		Accelerated:   k.Accelerated(),
		CPUBrand:      strings.TrimSpace(cpuid.CPU.BrandName),
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
	}
	for _, f := range []struct {
		id   cpuid.FeatureID
		name string
	}{
		{cpuid.AVX2, "avx2"},
		{cpuid.AVX512F, "avx512f"},
		{cpuid.FMA3, "fma3"},
		{cpuid.ASIMD, "neon"},
	} {
		if cpuid.CPU.Supports(f.id) {
			info.CPUFeatures = append(info.CPUFeatures, f.name)
		}
	}
	if info.LogicalCores == 0 {
		info.LogicalCores = runtime.NumCPU()
	}
	return info
}
