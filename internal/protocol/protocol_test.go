package protocol_test

import (
	"errors"
	"testing"

	"printlink/internal/protocol"
	"printlink/internal/services"
)

func TestDecodeStripsNaNOutsideStrings(t *testing.T) {
	raw := []byte(`{"st_id": 16, "st_label": "RUNNING", "prog": NaN, "rt": [-Infinity], "note": "NaN stays"}`)
	resp := protocol.Decode(raw)
	if resp.Fields == nil {
		t.Fatalf("expected sanitized payload to parse")
	}
	if !resp.Sanitized {
		t.Fatal("expected sanitized flag")
	}
	if resp.Fields["prog"] != nil {
		t.Fatalf("expected prog null, got %v", resp.Fields["prog"])
	}
	if resp.String("note") != "NaN stays" {
		t.Fatalf("string literal should be untouched, got %q", resp.String("note"))
	}
}

func TestSanitizeLeavesIdentifiersAlone(t *testing.T) {
	in := []byte(`{"NaNo": 1, "x": undefined}`)
	out, changed := protocol.Sanitize(in)
	if !changed {
		t.Fatal("expected undefined replaced")
	}
	if string(out) != `{"NaNo": 1, "x": null}` {
		t.Fatalf("unexpected sanitized output %s", out)
	}
	clean := []byte(`{"a":1}`)
	if out, changed := protocol.Sanitize(clean); changed || string(out) != string(clean) {
		t.Fatalf("expected clean input unchanged, got %s changed=%v", out, changed)
	}
}

func TestParseReportWithMalformedNumbers(t *testing.T) {
	resp := protocol.Decode([]byte(`{"st_id":48,"st_label":"PAUSED","prog":NaN,"rt":[205.5,NaN],"tt":[210],"error":["FILAMENT_RUNOUT"]}`))
	report := protocol.ParseReport(resp)
	if report.State != protocol.StatePaused {
		t.Fatalf("unexpected state %s", report.State)
	}
	if report.Progress != nil {
		t.Fatalf("expected nil progress, got %v", *report.Progress)
	}
	if report.Temperature == nil || *report.Temperature != 205.5 {
		t.Fatalf("unexpected temperature %v", report.Temperature)
	}
	if len(report.ErrorLabels) != 1 || report.ErrorLabels[0] != "FILAMENT_RUNOUT" {
		t.Fatalf("unexpected error labels %v", report.ErrorLabels)
	}
	if !report.Sanitized {
		t.Fatal("expected sanitized report")
	}
}

func TestParseReportFallsBackToStateID(t *testing.T) {
	report := protocol.ParseReport(protocol.Decode([]byte(`{"st_id":64}`)))
	if report.State != protocol.StateCompleted {
		t.Fatalf("expected COMPLETED from st_id, got %s", report.State)
	}
	unknown := protocol.ParseReport(protocol.Decode([]byte(`not json at all`)))
	if unknown.State != protocol.StateUnknown {
		t.Fatalf("expected UNKNOWN for garbage, got %s", unknown.State)
	}
}

func TestFatalOutcomeMatchesQueueFatal(t *testing.T) {
	outcome := protocol.Fatal(errors.New("socket reset"))
	if outcome.Kind != protocol.OutcomeFatal {
		t.Fatalf("unexpected kind %s", outcome.Kind)
	}
	if _, err := outcome.Result(); !errors.Is(err, services.ErrQueueFatal) {
		t.Fatalf("expected queue fatal, got %v", err)
	}
}

func TestTokenProducesSingleArgument(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Benchy", "Benchy"},
		{"my model.stl", "my_model.stl"},
		{"  Café\tpart  ", "Cafe_part"},
		{"line\nbreak", "line_break"},
	}
	for _, tc := range cases {
		if got := protocol.Token(tc.in); got != tc.want {
			t.Fatalf("Token(%q) = %q want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseListingAcceptsStringsAndLists(t *testing.T) {
	resp := protocol.Decode([]byte(`{"status":"ok","directories":["b","a"],"files":"cube.fc"}`))
	listing := protocol.ParseListing("/SD", resp)
	if listing.Path != "/SD" {
		t.Fatalf("unexpected path %q", listing.Path)
	}
	if len(listing.Directories) != 2 || listing.Directories[0] != "a" {
		t.Fatalf("expected sorted directories, got %v", listing.Directories)
	}
	if len(listing.Files) != 1 || listing.Files[0] != "cube.fc" {
		t.Fatalf("unexpected files %v", listing.Files)
	}
}

func TestParseFileInfoFlattensFields(t *testing.T) {
	resp := protocol.Decode([]byte(`{"status":"ok","size":2048,"AUTHOR":"flux","TIME_COST":NaN,"HEAD_TYPE":["EXTRUDER"]}`))
	info := protocol.ParseFileInfo("/SD", "cube.fc", resp)
	if info.Size == nil || *info.Size != 2048 {
		t.Fatalf("unexpected size %v", info.Size)
	}
	if _, ok := info.Fields["status"]; ok {
		t.Fatal("status should not be reported as a field")
	}
	if _, ok := info.Fields["TIME_COST"]; ok {
		t.Fatal("nulled placeholders should be skipped")
	}
	if info.Fields["HEAD_TYPE"] != "EXTRUDER" || info.Fields["size"] != "2048" {
		t.Fatalf("unexpected fields %v", info.Fields)
	}
	keys := info.Keys()
	if len(keys) != 3 || keys[0] != "AUTHOR" {
		t.Fatalf("unexpected keys %v", keys)
	}
}
