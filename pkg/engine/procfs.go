package engine

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/derekparker/trie"
)

// EnumerateProcesses lists every pid currently visible under /proc.
// Grounded on original_source/lib/Proc.cpp's enumerate_processes.
func EnumerateProcesses() ([]int, error) {
	return enumerateNumericDir("/proc")
}

// EnumerateThreads lists every tid under /proc/<pid>/task.
// Grounded on original_source/lib/Proc.cpp's enumerate_threads.
func EnumerateThreads(pid int) ([]int, error) {
	return enumerateNumericDir(fmt.Sprintf("/proc/%d/task", pid))
}

func enumerateNumericDir(path string) ([]int, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, &ProcfsFailed{Path: path, Err: err}
	}
	var ids []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		ids = append(ids, n)
	}
	return ids, nil
}

// EnumerateProcessesByName builds a prefix trie over every pid's
// /proc/<pid>/comm and returns the pids whose comm starts with prefix.
// Supplemented feature grounded on original_source/lib/Proc.cpp's
// enumerate_processes, generalized to a name filter, per SPEC_FULL.md §12.
func EnumerateProcessesByName(prefix string) ([]int, error) {
	pids, err := EnumerateProcesses()
	if err != nil {
		return nil, err
	}

	t := trie.New()
	byName := make(map[string][]int)
	for _, pid := range pids {
		comm, err := readComm(pid)
		if err != nil {
			continue
		}
		if _, seen := byName[comm]; !seen {
			t.Add(comm, nil)
		}
		byName[comm] = append(byName[comm], pid)
	}

	var matches []int
	for _, name := range t.PrefixSearch(prefix) {
		matches = append(matches, byName[name]...)
	}
	return matches, nil
}

func readComm(pid int) (string, error) {
	path := fmt.Sprintf("/proc/%d/comm", pid)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &ProcfsFailed{Path: path, Err: err}
	}
	return strings.TrimSpace(string(data)), nil
}

// HashRegions computes the FNV-1a 64-bit hash of the raw bytes of
// /proc/<pid>/maps. Grounded on original_source/lib/Proc.cpp's hash_regions.
func HashRegions(pid int) (uint64, error) {
	path := fmt.Sprintf("/proc/%d/maps", pid)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, &ProcfsFailed{Path: path, Err: err}
	}
	return fnv1a64(data), nil
}

const (
	fnv1aOffset = 0xcbf29ce484222325
	fnv1aPrime  = 0x100000001b3
)

func fnv1a64(data []byte) uint64 {
	h := uint64(fnv1aOffset)
	for _, b := range data {
		h ^= uint64(b)
		h *= fnv1aPrime
	}
	return h
}

// EnumerateRegions parses /proc/<pid>/maps into Region records. Grounded on
// original_source/lib/Proc.cpp's enumerate_regions.
func EnumerateRegions(pid int) ([]Region, error) {
	path := fmt.Sprintf("/proc/%d/maps", pid)
	f, err := os.Open(path)
	if err != nil {
		return nil, &ProcfsFailed{Path: path, Err: err}
	}
	defer f.Close()

	var regions []Region
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		r, ok := parseMapsLine(scanner.Text())
		if ok {
			regions = append(regions, r)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ProcfsFailed{Path: path, Err: err}
	}
	return regions, nil
}

// parseMapsLine parses one line of the form:
//
//	00400000-00452000 r-xp 00000000 08:02 173521  /usr/bin/dbus-daemon
func parseMapsLine(line string) (Region, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return Region{}, false
	}

	addrRange := strings.SplitN(fields[0], "-", 2)
	if len(addrRange) != 2 {
		return Region{}, false
	}
	start, err1 := strconv.ParseUint(addrRange[0], 16, 64)
	end, err2 := strconv.ParseUint(addrRange[1], 16, 64)
	if err1 != nil || err2 != nil {
		return Region{}, false
	}

	offset, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return Region{}, false
	}

	perms := fields[1]
	var permBits uint64
	if strings.ContainsRune(perms, 'r') {
		permBits |= PermRead
	}
	if strings.ContainsRune(perms, 'w') {
		permBits |= PermWrite
	}
	if strings.ContainsRune(perms, 'x') {
		permBits |= PermExecute
	}
	if strings.ContainsRune(perms, 'p') {
		permBits |= PermPrivate
	}
	if strings.ContainsRune(perms, 's') {
		permBits |= PermShared
	}

	var name string
	if len(fields) >= 6 {
		name = strings.Join(fields[5:], " ")
	}

	return Region{
		Start:       start,
		End:         end,
		Offset:      offset,
		Permissions: permBits,
		Name:        name,
	}, true
}
