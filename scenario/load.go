package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Input maps table (model) names to the documents to import into them.
type Input map[string][]map[string]any

// Load expands the glob patterns, which may use "**", and merges every
// matching JSON file in pattern order. A pattern matching nothing is an error.
func Load(patterns ...string) (Input, error) {
	var inputs []Input
	for _, pattern := range patterns {
		files, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %q: %w", ErrInvalidScenario, pattern, err)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("%w: pattern %q matched no files", ErrInvalidScenario, pattern)
		}
		sort.Strings(files)
		for _, file := range files {
			in, err := loadFile(file)
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, in)
		}
	}
	return Merge(inputs...), nil
}

func loadFile(path string) (Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	var in Input
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidScenario, path, err)
	}
	if in == nil {
		return nil, fmt.Errorf("%w: %s: expected an object of tables", ErrInvalidScenario, path)
	}
	return in, nil
}

// Merge concatenates the per-table documents of every input, in order.
func Merge(inputs ...Input) Input {
	out := make(Input)
	for _, in := range inputs {
		for table, docs := range in {
			out[table] = append(out[table], docs...)
		}
	}
	return out
}
