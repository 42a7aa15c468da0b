package crossforge

import (
	"bufio"
	"os"
	"runtime"
	"strings"
)

// buildJobs returns the make parallelism for this run. An explicit Jobs
// setting wins; otherwise the detected processor count is used, halved when
// idle priority is requested.
func buildJobs(cfg *Config) int {
	if cfg.Jobs > 0 {
		return cfg.Jobs
	}
	n := detectProcessorCount()
	if cfg.IdleBuild {
		n = n / 2
	}
	if n < 1 {
		n = 1
	}
	return n
}

// detectProcessorCount prefers /proc/cpuinfo so the count matches what make
// sees inside containers with a pinned cpuset; falls back to runtime.NumCPU.
func detectProcessorCount() int {
	file, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return runtime.NumCPU()
	}
	defer file.Close()

	count := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "processor") {
			count++
		}
	}
	if count == 0 {
		return runtime.NumCPU()
	}
	return count
}
