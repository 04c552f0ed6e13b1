package storage

import (
	"strings"

	"github.com/miku/ccforms/formextract"
)

// FormMatch pairs a stored qualifying form with the URL it came from.
type FormMatch struct {
	URL  string
	Form string
}

// AllForms loads every indexed WARC and returns every stored qualifying
// form, paired with its URL, in index order.
func (c *Corpus) AllForms() ([]FormMatch, error) {
	urls, err := c.List()
	if err != nil {
		return nil, err
	}
	var out []FormMatch
	for _, warcURL := range urls {
		summary, err := c.Load(warcURL)
		if err != nil {
			continue
		}
		for _, u := range summary.URLsWithPatternForms {
			for _, f := range u.WithPatterns {
				out = append(out, FormMatch{URL: u.URL, Form: f})
			}
		}
	}
	return out, nil
}

// Patterns returns the value of every trigger attribute across every
// stored qualifying form.
func (c *Corpus) Patterns() ([]string, error) {
	forms, err := c.AllForms()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, fm := range forms {
		out = append(out, formextract.EnumeratePatterns(fm.Form)...)
	}
	return out, nil
}

// FindPattern returns every stored form containing needle as a substring of
// any enumerated pattern.
func (c *Corpus) FindPattern(needle string) ([]FormMatch, error) {
	forms, err := c.AllForms()
	if err != nil {
		return nil, err
	}
	var out []FormMatch
	for _, fm := range forms {
		for _, p := range formextract.EnumeratePatterns(fm.Form) {
			if strings.Contains(p, needle) {
				out = append(out, fm)
				break
			}
		}
	}
	return out, nil
}

// FindInput returns the source text of every descendant element, across
// every stored qualifying form, whose attribute values contain needle.
func (c *Corpus) FindInput(needle string) ([]string, error) {
	forms, err := c.AllForms()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, fm := range forms {
		out = append(out, formextract.ElementsWith(fm.Form, needle)...)
	}
	return out, nil
}
