// Package analyze implements the per-record classification and the
// archive-wide summary monoid that results from folding records together.
package analyze

import (
	"bytes"
	"strings"

	"github.com/miku/ccforms/formextract"
	"github.com/miku/ccforms/warcstream"
)

// URLSummary pairs a page URL with the qualifying forms extracted from it.
// WithPatterns is never empty for a value that appears in an ArchiveSummary.
type URLSummary struct {
	URL          string   `json:"url"`
	WithPatterns []string `json:"with_patterns"`
}

// ArchiveSummary is the reduction result for one WARC. It forms an abelian
// monoid under pairwise-sum on the counters and list-concatenation on
// URLsWithPatternForms; Zero is its identity. Merge is the only supported
// way to combine two summaries - callers should not add to the counters or
// append to the slice directly.
type ArchiveSummary struct {
	NrUnknownEncoding      int64        `json:"nr_unknown_encoding"`
	NrURLsWithoutPatterns  int64        `json:"nr_urls_without_patterns"`
	NrFormsWithoutPatterns int64        `json:"nr_forms_without_patterns"`
	URLsWithPatternForms   []URLSummary `json:"urls_with_pattern_forms"`
}

// Zero returns the identity element of the ArchiveSummary monoid.
func Zero() ArchiveSummary {
	return ArchiveSummary{}
}

// Merge combines two summaries. The result does not share the input slices'
// backing arrays with a, so repeated folding does not corrupt earlier
// partials.
func Merge(a, b ArchiveSummary) ArchiveSummary {
	out := ArchiveSummary{
		NrUnknownEncoding:      a.NrUnknownEncoding + b.NrUnknownEncoding,
		NrURLsWithoutPatterns:  a.NrURLsWithoutPatterns + b.NrURLsWithoutPatterns,
		NrFormsWithoutPatterns: a.NrFormsWithoutPatterns + b.NrFormsWithoutPatterns,
	}
	out.URLsWithPatternForms = make([]URLSummary, 0, len(a.URLsWithPatternForms)+len(b.URLsWithPatternForms))
	out.URLsWithPatternForms = append(out.URLsWithPatternForms, a.URLsWithPatternForms...)
	out.URLsWithPatternForms = append(out.URLsWithPatternForms, b.URLsWithPatternForms...)
	return out
}

var htmlPayloadTypes = map[string]bool{
	"text/html":             true,
	"application/xhtml+xml": true,
}

// AnalyzeRecord classifies one response record and returns the increment it
// contributes to an ArchiveSummary. A nil result (with nil error) means the
// record was skipped and contributes nothing.
func AnalyzeRecord(rec *warcstream.Record) (*ArchiveSummary, error) {
	payloadType := rec.Header.Get("WARC-Identified-Payload-Type")
	if payloadType == "" {
		return nil, nil
	}
	if ct, _, _ := strings.Cut(payloadType, ";"); !htmlPayloadTypes[strings.TrimSpace(ct)] {
		return nil, nil
	}
	nrForms, forms, err := formextract.Extract(bytes.NewReader(rec.Content))
	if err != nil {
		out := Zero()
		out.NrUnknownEncoding = 1
		return &out, nil
	}
	out := Zero()
	if len(forms) == 0 {
		out.NrURLsWithoutPatterns = 1
		return &out, nil
	}
	url := rec.Header.Get("WARC-Target-URI")
	if url == "" {
		return nil, nil
	}
	out.URLsWithPatternForms = []URLSummary{{URL: url, WithPatterns: forms}}
	out.NrFormsWithoutPatterns = int64(nrForms) - int64(len(forms))
	return &out, nil
}
