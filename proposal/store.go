package proposal

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"
)

const (
	// DefaultDir is the dir holding proposals in the mirrored repository
	DefaultDir = "EIPS"
	// DefaultPrefix is the proposal file name prefix
	DefaultPrefix = "eip-"
	// DefaultSearchLimit is used when search limit is not set
	DefaultSearchLimit = 10

	fileExt = ".md"

	titleWeight       = 10
	descriptionWeight = 5
	bodyWeight        = 1
)

// ErrNotFound is returned when proposal with given number doesn't exist
var ErrNotFound = errors.New("proposal not found")

// FileSource provides read access to files of the mirrored repository,
// paths are relative to its root. Errors for missing files and dirs must
// match fs.ErrNotExist.
type FileSource interface {
	ReadFile(rel string) (string, error)
	ListDirectory(rel string) ([]string, error)
}

// Config represents location of proposals in the repository
type Config struct {
	// Dir is the dir relative to repository root
	Dir string `yaml:"dir"`
	// Prefix of the proposal file names, followed by the number
	Prefix string `yaml:"prefix"`
}

// ApplyDefaults sets default values for all unset fields
func (c *Config) ApplyDefaults() {
	if c.Dir == "" {
		c.Dir = DefaultDir
	}
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
}

// Store looks up proposals in a FileSource
type Store struct {
	src    FileSource
	dir    string
	prefix string
	log    *slog.Logger
}

// NewStore returns Store reading proposals from src
func NewStore(src FileSource, conf Config, log *slog.Logger) *Store {
	conf.ApplyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		src:    src,
		dir:    conf.Dir,
		prefix: conf.Prefix,
		log:    log,
	}
}

// Path returns path of the proposal file relative to repository root
func (s *Store) Path(number int) string {
	return path.Join(s.dir, s.prefix+strconv.Itoa(number)+fileExt)
}

// Get returns proposal with given number
func (s *Store) Get(number int) (*Proposal, error) {
	text, err := s.Document(number)
	if err != nil {
		return nil, err
	}
	return Parse(s.Path(number), number, text)
}

// Document returns markdown document of the proposal as stored in the
// repository
func (s *Store) Document(number int) (string, error) {
	if number < 0 {
		return "", fmt.Errorf("invalid proposal number %d", number)
	}

	text, err := s.src.ReadFile(s.Path(number))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("proposal %d: %w", number, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("unable to read proposal %d err:%w", number, err)
	}
	return text, nil
}

// List returns summaries of all proposals sorted by number. if status is
// set only proposals with matching status (case insensitive) are returned.
func (s *Store) List(status string) ([]Summary, error) {
	all, err := s.loadAll()
	if err != nil {
		return nil, err
	}

	out := []Summary{}
	for _, p := range all {
		if status != "" && !strings.EqualFold(p.Status, status) {
			continue
		}
		out = append(out, p.Summary())
	}
	return out, nil
}

// Search returns proposals matching any of the whitespace separated
// terms of query ordered by score and then number. each occurrence of a
// term in title adds 10 to the score, in description 5 and in body 1.
func (s *Store) Search(query string, limit int) ([]Result, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	all, err := s.loadAll()
	if err != nil {
		return nil, err
	}

	results := []Result{}
	for _, p := range all {
		if score := Score(p, terms); score > 0 {
			results = append(results, Result{Summary: p.Summary(), Score: score})
		}
	}

	slices.SortStableFunc(results, func(a, b Result) int {
		if a.Score != b.Score {
			return b.Score - a.Score
		}
		return a.Number - b.Number
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Score returns relevance of the proposal for given lower case terms
func Score(p *Proposal, terms []string) int {
	title := strings.ToLower(p.Title)
	description := strings.ToLower(p.Description)
	body := strings.ToLower(p.Body)

	var score int
	for _, t := range terms {
		score += titleWeight * strings.Count(title, t)
		score += descriptionWeight * strings.Count(description, t)
		score += bodyWeight * strings.Count(body, t)
	}
	return score
}

// loadAll reads and parses all proposals sorted by number, documents
// which can not be parsed are skipped
func (s *Store) loadAll() ([]*Proposal, error) {
	names, err := s.src.ListDirectory(s.dir)
	if err != nil {
		return nil, fmt.Errorf("unable to list proposals err:%w", err)
	}

	var all []*Proposal
	for _, name := range names {
		number, ok := s.numberFromName(name)
		if !ok {
			continue
		}
		p := path.Join(s.dir, name)
		text, err := s.src.ReadFile(p)
		if err != nil {
			s.log.Warn("unable to read proposal", "path", p, "err", err)
			continue
		}
		prop, err := Parse(p, number, text)
		if err != nil {
			s.log.Warn("skipping proposal", "path", p, "err", err)
			continue
		}
		all = append(all, prop)
	}

	slices.SortStableFunc(all, func(a, b *Proposal) int {
		return a.Number - b.Number
	})
	return all, nil
}

// numberFromName returns number of the proposal from its file name
func (s *Store) numberFromName(name string) (int, bool) {
	if !strings.HasPrefix(name, s.prefix) || !strings.HasSuffix(name, fileExt) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, s.prefix), fileExt))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
