package procstats

import (
	ps "github.com/mitchellh/go-ps"
)

// Descendants returns the OS pids whose ancestry chain (via PPid) leads
// back to rootPID, scanning the live process table with mitchellh/go-ps.
// Mirrors the teacher's scanPids helper (drivers/shared/executor).
func Descendants(rootPID int) ([]int, error) {
	procs, err := ps.Processes()
	if err != nil {
		return nil, err
	}
	return descendantsOf(rootPID, procs), nil
}

func descendantsOf(rootPID int, procs []ps.Process) []int {
	byParent := make(map[int][]int, len(procs))
	for _, p := range procs {
		byParent[p.PPid()] = append(byParent[p.PPid()], p.Pid())
	}

	var out []int
	frontier := []int{rootPID}
	seen := map[int]bool{rootPID: true}
	for len(frontier) > 0 {
		var next []int
		for _, pid := range frontier {
			for _, child := range byParent[pid] {
				if seen[child] {
					continue
				}
				seen[child] = true
				out = append(out, child)
				next = append(next, child)
			}
		}
		frontier = next
	}
	return out
}
