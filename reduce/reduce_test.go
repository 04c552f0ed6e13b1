package reduce

import (
	"bytes"
	"fmt"
	"testing"
)

func makeWARCRecord(uri, payloadType, body string) []byte {
	httpResp := fmt.Sprintf("HTTP/1.1 200 OK\r\n"+
		"Content-Type: text/html; charset=utf-8\r\n"+
		"Content-Length: %d\r\n"+
		"\r\n"+
		"%s", len(body), body)

	return []byte(fmt.Sprintf("WARC/1.0\r\n"+
		"WARC-Type: response\r\n"+
		"WARC-Target-URI: %s\r\n"+
		"WARC-Record-ID: <urn:uuid:12345678-1234-1234-1234-123456789012>\r\n"+
		"WARC-Date: 2024-01-01T00:00:00Z\r\n"+
		"WARC-Identified-Payload-Type: %s\r\n"+
		"Content-Type: application/http; msgtype=response\r\n"+
		"Content-Length: %d\r\n"+
		"\r\n"+
		"%s"+
		"\r\n\r\n", uri, payloadType, len(httpResp), httpResp))
}

func TestWARCFoldsAcrossRecords(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(makeWARCRecord("http://example.com/a",
		"text/html", `<form><input pattern="\d+"></form>`))
	buf.Write(makeWARCRecord("http://example.com/b",
		"text/html", `<p>no forms</p>`))
	buf.Write(makeWARCRecord("http://example.com/c",
		"image/png", `binary`))

	summary, err := WARC(bytes.NewReader(buf.Bytes()), 2)
	if err != nil {
		t.Fatalf("WARC: %v", err)
	}
	if summary.NrURLsWithoutPatterns != 1 {
		t.Errorf("expected 1 url without patterns, got %d", summary.NrURLsWithoutPatterns)
	}
	if len(summary.URLsWithPatternForms) != 1 {
		t.Fatalf("expected 1 url with pattern forms, got %d", len(summary.URLsWithPatternForms))
	}
	if summary.URLsWithPatternForms[0].URL != "http://example.com/a" {
		t.Errorf("unexpected url: %s", summary.URLsWithPatternForms[0].URL)
	}
}

func TestWARCEmptyStream(t *testing.T) {
	summary, err := WARC(bytes.NewReader(nil), 1)
	if err != nil {
		t.Fatalf("WARC: %v", err)
	}
	if summary.NrUnknownEncoding != 0 || len(summary.URLsWithPatternForms) != 0 {
		t.Fatalf("expected zero summary for empty stream, got %+v", summary)
	}
}
