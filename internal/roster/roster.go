// Package roster reads user lists for offline matching runs. A roster is a
// YAML (or JSON, which is valid YAML) document:
//
//	users:
//	  - id: alice
//	    opinions: [1, 2, 3]
//	  - opinions: [7, 6, 5]   # id generated
package roster

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nemesis/matcher/internal/matching"
)

type document struct {
	Users []entry `yaml:"users"`
}

type entry struct {
	ID       string `yaml:"id"`
	Opinions []int  `yaml:"opinions"`
}

// Read decodes a roster and validates every user. Users keep their order
// in the document, which is the order the matcher sees them in.
func Read(r io.Reader) ([]matching.User, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("roster: decode: %w", err)
	}

	users := make([]matching.User, 0, len(doc.Users))
	seen := make(map[string]int, len(doc.Users))
	for i, e := range doc.Users {
		u, err := matching.NewUser(e.ID, e.Opinions)
		if err != nil {
			return nil, fmt.Errorf("roster: user %d (%q): %w", i, e.ID, err)
		}
		if prev, ok := seen[u.ID]; ok {
			return nil, fmt.Errorf("roster: user %d duplicates id %q of user %d", i, u.ID, prev)
		}
		seen[u.ID] = i
		users = append(users, u)
	}
	return users, nil
}

// Load reads a roster file.
func Load(path string) ([]matching.User, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("roster: %w", err)
	}
	defer f.Close()
	return Read(f)
}
