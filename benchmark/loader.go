package benchmark

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// LoadInstances reads newline-delimited instance records from path. Blank
// lines are skipped; a malformed line is an error.
func LoadInstances(path string) ([]*Instance, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening input file: %w", err)
	}
	defer file.Close()

	var instances []*Instance

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		instance := &Instance{}
		if err := json.Unmarshal(raw, instance); err != nil {
			return nil, fmt.Errorf("parsing line %d: %w", line, err)
		}
		instance.Raw = json.RawMessage(append([]byte(nil), raw...))
		instances = append(instances, instance)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading input file: %w", err)
	}

	return instances, nil
}

// BaseDatabases returns the distinct base database names the instances
// target.
func BaseDatabases(instances []*Instance) []string {
	seen := map[string]bool{}
	var names []string
	for _, in := range instances {
		if in.SelectedDatabase == "" || seen[in.SelectedDatabase] {
			continue
		}
		seen[in.SelectedDatabase] = true
		names = append(names, in.SelectedDatabase)
	}
	return names
}
