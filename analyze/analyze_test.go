package analyze

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/miku/ccforms/warcstream"
)

type fakeHeader map[string]string

func (h fakeHeader) Get(key string) string { return h[key] }

func httpPayload(contentType, body string) []byte {
	return []byte(fmt.Sprintf("HTTP/1.1 200 OK\r\n"+
		"Content-Type: %s\r\n"+
		"Content-Length: %d\r\n"+
		"\r\n"+
		"%s", contentType, len(body), body))
}

func TestMergeIsCommutativeAndHasIdentity(t *testing.T) {
	a := ArchiveSummary{NrUnknownEncoding: 1, URLsWithPatternForms: []URLSummary{{URL: "u1", WithPatterns: []string{"<form></form>"}}}}
	b := ArchiveSummary{NrURLsWithoutPatterns: 2}

	ab := Merge(a, b)
	ba := Merge(b, a)
	// Order within URLsWithPatternForms may legitimately differ in general,
	// but here only one side contributes any, so they must match exactly.
	if diff := cmp.Diff(ab, ba); diff != "" {
		t.Errorf("merge not commutative (-ab +ba):\n%s", diff)
	}
	if diff := cmp.Diff(Merge(a, Zero()), a); diff != "" {
		t.Errorf("zero is not an identity element (-merged +a):\n%s", diff)
	}
}

func TestMergeDoesNotAliasInputSlices(t *testing.T) {
	a := ArchiveSummary{URLsWithPatternForms: []URLSummary{{URL: "u1"}}}
	b := ArchiveSummary{URLsWithPatternForms: []URLSummary{{URL: "u2"}}}
	out := Merge(a, b)
	out.URLsWithPatternForms[0].URL = "mutated"
	if a.URLsWithPatternForms[0].URL != "u1" {
		t.Fatalf("Merge aliased a's backing array")
	}
}

func TestAnalyzeRecordSkipsMissingPayloadType(t *testing.T) {
	rec := &warcstream.Record{Header: fakeHeader{"WARC-Target-URI": "http://x"}}
	inc, err := AnalyzeRecord(rec)
	if err != nil {
		t.Fatalf("AnalyzeRecord: %v", err)
	}
	if inc != nil {
		t.Fatalf("expected nil increment for record without payload type, got %+v", inc)
	}
}

func TestAnalyzeRecordSkipsNonHTML(t *testing.T) {
	rec := &warcstream.Record{
		Header: fakeHeader{
			"WARC-Target-URI":               "http://x/image.png",
			"WARC-Identified-Payload-Type":  "image/png",
		},
	}
	inc, err := AnalyzeRecord(rec)
	if err != nil {
		t.Fatalf("AnalyzeRecord: %v", err)
	}
	if inc != nil {
		t.Fatalf("expected nil increment for non-HTML record, got %+v", inc)
	}
}

func TestAnalyzeRecordBasicQualification(t *testing.T) {
	body := `<html><body><form><input type="text" pattern="\d+"></form></body></html>`
	rec := &warcstream.Record{
		Header: fakeHeader{
			"WARC-Target-URI":              "http://example.com/page",
			"WARC-Identified-Payload-Type": "text/html",
		},
		Content: httpPayload("text/html; charset=utf-8", body),
	}
	inc, err := AnalyzeRecord(rec)
	if err != nil {
		t.Fatalf("AnalyzeRecord: %v", err)
	}
	if inc.NrFormsWithoutPatterns != 0 {
		t.Errorf("expected 0 forms-without-patterns, got %d", inc.NrFormsWithoutPatterns)
	}
	if len(inc.URLsWithPatternForms) != 1 {
		t.Fatalf("expected 1 URL summary, got %d", len(inc.URLsWithPatternForms))
	}
	u := inc.URLsWithPatternForms[0]
	if u.URL != "http://example.com/page" {
		t.Errorf("unexpected url: %s", u.URL)
	}
	if len(u.WithPatterns) != 1 {
		t.Fatalf("expected 1 qualifying form, got %d", len(u.WithPatterns))
	}
}

func TestAnalyzeRecordMissingTargetURIStillCountsWithoutPatterns(t *testing.T) {
	body := `<html><body><p>no forms here</p></body></html>`
	rec := &warcstream.Record{
		Header: fakeHeader{
			"WARC-Identified-Payload-Type": "text/html",
		},
		Content: httpPayload("text/html; charset=utf-8", body),
	}
	inc, err := AnalyzeRecord(rec)
	if err != nil {
		t.Fatalf("AnalyzeRecord: %v", err)
	}
	if inc == nil {
		t.Fatal("expected an increment even without WARC-Target-URI, got nil")
	}
	if inc.NrURLsWithoutPatterns != 1 {
		t.Fatalf("expected nr_urls_without_patterns=1, got %d", inc.NrURLsWithoutPatterns)
	}
}

func TestAnalyzeRecordMissingTargetURIWithQualifyingFormIsSkipped(t *testing.T) {
	body := `<html><body><form><input type="text" pattern="\d+"></form></body></html>`
	rec := &warcstream.Record{
		Header: fakeHeader{
			"WARC-Identified-Payload-Type": "text/html",
		},
		Content: httpPayload("text/html; charset=utf-8", body),
	}
	inc, err := AnalyzeRecord(rec)
	if err != nil {
		t.Fatalf("AnalyzeRecord: %v", err)
	}
	if inc != nil {
		t.Fatalf("a qualifying form without a URL to attribute it to cannot be counted, got %+v", inc)
	}
}

func TestAnalyzeRecordTruncatedFormIsUnknownEncoding(t *testing.T) {
	body := `<html><body><form><input pattern="\d+">`
	rec := &warcstream.Record{
		Header: fakeHeader{
			"WARC-Target-URI":              "http://example.com/page",
			"WARC-Identified-Payload-Type": "text/html",
		},
		Content: httpPayload("text/html; charset=utf-8", body),
	}
	inc, err := AnalyzeRecord(rec)
	if err != nil {
		t.Fatalf("AnalyzeRecord: %v", err)
	}
	if inc.NrUnknownEncoding != 1 {
		t.Fatalf("expected nr_unknown_encoding=1, got %d", inc.NrUnknownEncoding)
	}
	if len(inc.URLsWithPatternForms) != 0 {
		t.Fatalf("expected no URL summary for a broken record")
	}
}
