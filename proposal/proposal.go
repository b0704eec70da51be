// Package proposal reads improvement proposal documents from a mirrored
// repository and provides lookup, listing and keyword search over them.
//
// Proposals are markdown files named `<prefix><number>.md` in a single
// directory, each starting with a front matter header.
//
//	---
//	eip: 20
//	title: Token Standard
//	status: Final
//	requires: 165
//	---
package proposal

import (
	"encoding/json"
	"fmt"
	"path"
)

// Proposal is a parsed proposal document
type Proposal struct {
	Number        int    `json:"number"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	Author        string `json:"author,omitempty"`
	Status        string `json:"status,omitempty"`
	Type          string `json:"type,omitempty"`
	Category      string `json:"category,omitempty"`
	Created       string `json:"created,omitempty"`
	Requires      []int  `json:"requires,omitempty"`
	DiscussionsTo string `json:"discussions_to,omitempty"`
	Path          string `json:"path"`
	Body          string `json:"body,omitempty"`
}

// Summary is a proposal without its body
type Summary struct {
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	Type        string `json:"type,omitempty"`
	Category    string `json:"category,omitempty"`
	Path        string `json:"path"`
}

// Result is a single search hit
type Result struct {
	Summary
	Score int `json:"score"`
}

// Summary returns summary of the proposal
func (p *Proposal) Summary() Summary {
	return Summary{
		Number:      p.Number,
		Title:       p.Title,
		Description: p.Description,
		Status:      p.Status,
		Type:        p.Type,
		Category:    p.Category,
		Path:        p.Path,
	}
}

// Parse parses proposal document read from given path. number from the
// file name is used if front matter does not specify one.
func Parse(filePath string, number int, text string) (*Proposal, error) {
	fields, body, err := ParseFrontMatter(text)
	if err != nil {
		return nil, fmt.Errorf("unable to parse %s err:%w", filePath, err)
	}

	p := &Proposal{
		Number:        intField(fields, "eip"),
		Title:         stringField(fields, "title"),
		Description:   stringField(fields, "description"),
		Author:        stringField(fields, "author"),
		Status:        stringField(fields, "status"),
		Type:          stringField(fields, "type"),
		Category:      stringField(fields, "category"),
		Created:       stringField(fields, "created"),
		Requires:      intListField(fields, "requires"),
		DiscussionsTo: stringField(fields, "discussions-to"),
		Path:          path.Clean(filePath),
		Body:          body,
	}
	if p.Number == 0 {
		p.Number = number
	}
	return p, nil
}

// ToJSON returns indented json encoding of v
func ToJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("unable to encode json err:%w", err)
	}
	return string(data), nil
}
