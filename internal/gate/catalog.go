// Package gate holds the static catalog of gate templates that can be placed
// on a circuit.
package gate

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Info is an immutable gate template from the catalog.
type Info struct {
	ID               string `yaml:"id" json:"id"`
	Name             string `yaml:"name" json:"name"`
	Symbol           string `yaml:"symbol" json:"symbol"`
	Color            string `yaml:"color" json:"color"`
	Category         string `yaml:"category" json:"category"`
	Description      string `yaml:"description" json:"description"`
	NumTargetQubits  int    `yaml:"num_target_qubits" json:"numTargetQubits"`
	NumControlQubits int    `yaml:"num_control_qubits" json:"numControlQubits"`
}

// NumQubits returns the number of qubit lines the gate acts on.
func (i Info) NumQubits() int {
	return i.NumTargetQubits + i.NumControlQubits
}

// Parameterized reports whether the gate takes a rotation angle.
func (i Info) Parameterized() bool {
	switch strings.ToLower(i.ID) {
	case "rx", "ry", "rz":
		return true
	}
	return false
}

var (
	loadOnce sync.Once
	catalog  []Info
	byID     map[string]Info
	loadErr  error
)

func load() {
	var entries []Info
	if err := yaml.Unmarshal(catalogYAML, &entries); err != nil {
		loadErr = fmt.Errorf("decode gate catalog: %w", err)
		return
	}
	byID = make(map[string]Info, len(entries))
	for _, e := range entries {
		if e.NumTargetQubits < 1 {
			loadErr = fmt.Errorf("gate %q: needs at least one target qubit", e.ID)
			return
		}
		key := strings.ToLower(e.ID)
		if _, dup := byID[key]; dup {
			loadErr = fmt.Errorf("gate %q: duplicate id", e.ID)
			return
		}
		byID[key] = e
	}
	catalog = entries
}

// All returns every catalog entry in palette order.
func All() []Info {
	loadOnce.Do(load)
	if loadErr != nil {
		panic(loadErr)
	}
	return append([]Info(nil), catalog...)
}

// Lookup finds a template by id, ignoring case.
func Lookup(id string) (Info, bool) {
	loadOnce.Do(load)
	if loadErr != nil {
		panic(loadErr)
	}
	info, ok := byID[strings.ToLower(id)]
	return info, ok
}

// Categories returns the catalog grouped by category, in first-seen order.
func Categories() []Category {
	var cats []Category
	index := make(map[string]int)
	for _, info := range All() {
		i, ok := index[info.Category]
		if !ok {
			i = len(cats)
			index[info.Category] = i
			cats = append(cats, Category{Name: info.Category})
		}
		cats[i].Gates = append(cats[i].Gates, info)
	}
	return cats
}

// Category groups related templates under one palette tab.
type Category struct {
	Name  string
	Gates []Info
}
