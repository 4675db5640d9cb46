package agent

import (
	"bufio"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"github.com/hivemesh/hive/pkg/types"
)

// detectCapabilities inspects the host and derives the worker's
// capabilities. A user-specified worker type is honored; "auto" picks
// one from the hardware.
func detectCapabilities(requested types.WorkerType) types.Capabilities {
	caps := types.Capabilities{
		WorkerType: requested,
		CPUCores:   runtime.NumCPU(),
		RAMGB:      detectRAMGB(),
		StorageGB:  detectStorageGB("/"),
	}
	caps.GPUType = detectGPU()
	caps.HasGPU = caps.GPUType != ""

	if requested == types.WorkerTypeAuto || requested == "" {
		caps.WorkerType = chooseWorkerType(caps)
	}
	return caps
}

// chooseWorkerType applies the auto-selection rules: GPU hosts serve
// the GPU tier, big CPU/RAM hosts the CPU tier, disk-heavy low-compute
// hosts the storage tier, everything else the CPU tier.
func chooseWorkerType(caps types.Capabilities) types.WorkerType {
	switch {
	case caps.HasGPU:
		return types.WorkerTypeGPU
	case caps.CPUCores >= 8 && caps.RAMGB >= 32:
		return types.WorkerTypeCPU
	case caps.StorageGB >= 500 && caps.CPUCores < 4:
		return types.WorkerTypeStorage
	}
	return types.WorkerTypeCPU
}

// detectGPU probes nvidia-smi for an installed GPU. Returns the model
// name, or "" when no GPU is usable.
func detectGPU() string {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return ""
	}
	out, err := exec.Command(path, "--query-gpu=name", "--format=csv,noheader").Output()
	if err != nil {
		return ""
	}
	name := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	return name
}

// detectRAMGB reads total memory from /proc/meminfo.
func detectRAMGB() int {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return int(kb / (1024 * 1024))
	}
	return 0
}

// detectStorageGB returns the size of the filesystem holding path.
func detectStorageGB(path string) int {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0
	}
	total := uint64(st.Bsize) * st.Blocks
	return int(total / (1 << 30))
}

// currentLoad reports 1-minute load average normalized by core count,
// clamped to [0,1]. Missing /proc/loadavg reads as zero load.
func currentLoad() float64 {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	avg, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	load := avg / float64(runtime.NumCPU())
	if load > 1 {
		return 1
	}
	if load < 0 {
		return 0
	}
	return load
}
