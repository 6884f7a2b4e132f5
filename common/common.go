package common

import "runtime"

// GetProcNum resolves a worker count; zero or negative means one per CPU.
func GetProcNum(maxGoRoutines int) int {
	if maxGoRoutines <= 0 {
		return runtime.NumCPU()
	}

	return maxGoRoutines
}

type Chunk struct {
	Begin int
	End   int
}

// Chunks splits [0, n) into parts contiguous ranges whose sizes differ by at most one.
func Chunks(n, parts int) []Chunk {
	if parts <= 0 {
		parts = 1
	}

	bs := n / parts
	rem := n % parts
	chunks := make([]Chunk, parts)
	bi := 0
	for i := 0; i < parts; i++ {
		ei := bi + bs
		if i < rem {
			ei += 1
		}

		chunks[i] = Chunk{Begin: bi, End: ei}
		bi = ei
	}

	return chunks
}
