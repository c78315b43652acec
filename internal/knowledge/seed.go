// ABOUTME: Bulk loading of predefined answers from a YAML seed file
// ABOUTME: Existing questions are skipped so seeding can be re-run safely

package knowledge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/2389/frontdesk-gateway/internal/store"
)

// SeedEntry is one predefined question/answer pair.
type SeedEntry struct {
	Question string `yaml:"question"`
	Answer   string `yaml:"answer"`
}

// seedFile is the document layout:
//
//	entries:
//	  - question: "What are your hours?"
//	    answer: "We're open 9 to 7, Tuesday through Saturday."
type seedFile struct {
	Entries []SeedEntry `yaml:"entries"`
}

// SeedResult counts what a seed run did.
type SeedResult struct {
	Added   int
	Skipped int
}

// ParseSeed decodes a seed document. Unknown keys are rejected.
func ParseSeed(data []byte) ([]SeedEntry, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f seedFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}
	return f.Entries, nil
}

// LoadSeedFile reads and decodes the seed file at path.
func LoadSeedFile(path string) ([]SeedEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	return ParseSeed(data)
}

// Seed inserts entries into the predefined tier. Questions already present
// are counted as skipped; any other failure stops the run.
func (s *Store) Seed(ctx context.Context, entries []SeedEntry) (SeedResult, error) {
	var res SeedResult
	for i, e := range entries {
		_, err := s.Insert(ctx, store.TierPredefined, store.KnowledgeEntry{
			Question: e.Question,
			Answer:   e.Answer,
		})
		switch {
		case err == nil:
			res.Added++
		case errors.Is(err, store.ErrDuplicateKey):
			res.Skipped++
		default:
			return res, fmt.Errorf("seed entry %d: %w", i+1, err)
		}
	}
	return res, nil
}
