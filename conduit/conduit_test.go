package conduit

import (
	"testing"

	"github.com/coldpalm/palmsync/dlp"
)

func TestParseStatusLine(t *testing.T) {
	cases := []struct {
		line string
		code int
		cont bool
		text string
	}{
		{"200 OK", 200, false, "OK"},
		{"301-partial", 301, true, "partial"},
		{"garbage", defaultStatus, false, "garbage"},
		{"12 short", defaultStatus, false, "12 short"},
	}
	for _, c := range cases {
		code, cont, text := ParseStatusLine(c.line)
		if code != c.code || cont != c.cont || text != c.text {
			t.Errorf("ParseStatusLine(%q) = (%d,%v,%q), want (%d,%v,%q)",
				c.line, code, cont, text, c.code, c.cont, c.text)
		}
	}
}

func TestClassOf(t *testing.T) {
	cases := map[int]StatusClass{
		50:  ClassDebug,
		150: ClassInfo,
		200: ClassSuccess,
		320: ClassWarning,
		404: ClassCallerError,
		501: ClassConduitError,
	}
	for code, want := range cases {
		if got := ClassOf(code); got != want {
			t.Errorf("ClassOf(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestCreaTypeMatch(t *testing.T) {
	wildcard := CreaType{}
	if !wildcard.matches(0x70736173, 0x44415441) {
		t.Fatal("empty CreaType should match anything")
	}
	exact := CreaType{Creator: 0x70736173, Type: 0x44415441}
	if !exact.matches(0x70736173, 0x44415441) {
		t.Fatal("exact CreaType should match identical creator/type")
	}
	if exact.matches(0x70736173, 0x12345678) {
		t.Fatal("exact CreaType should not match a different type")
	}
	wildType := CreaType{Creator: 0x70736173}
	if !wildType.matches(0x70736173, 0x99999999) {
		t.Fatal("CreaType with wildcard type should match any type for its creator")
	}
}

func TestDispatchDefaultFallback(t *testing.T) {
	var ran []string
	disp := &Dispatcher{Descriptors: []Descriptor{
		{Path: "", Flavors: FlavorSync, Default: true},
	}}
	results := disp.Dispatch(FlavorSync, RunContext{HasDB: true, DB: dlp.DBInfo{Creator: 1, Type: 1}})
	if len(results) != 1 {
		t.Fatalf("expected the stashed default to run when nothing else matched, got %d results", len(results))
	}
	_ = ran
}

func TestDispatchFinalStopsScan(t *testing.T) {
	disp := &Dispatcher{Descriptors: []Descriptor{
		{Path: "", Flavors: FlavorSync, Final: true},
		{Path: "", Flavors: FlavorSync},
	}}
	results := disp.Dispatch(FlavorSync, RunContext{HasDB: true, DB: dlp.DBInfo{Creator: 1, Type: 1}})
	if len(results) != 1 {
		t.Fatalf("expected scanning to stop after the Final conduit ran, got %d results", len(results))
	}
}

func TestDispatchPhaseMaskFilters(t *testing.T) {
	disp := &Dispatcher{Descriptors: []Descriptor{
		{Path: "", Flavors: FlavorFetch},
	}}
	results := disp.Dispatch(FlavorSync, RunContext{HasDB: true, DB: dlp.DBInfo{Creator: 1, Type: 1}})
	if len(results) != 0 {
		t.Fatalf("conduit declared for Fetch only must not run during a Sync phase, got %d results", len(results))
	}
}

func TestBuildHeadersMandatory(t *testing.T) {
	ctx := RunContext{
		Daemon:   "palmsync",
		Version:  "1.0",
		InputDB:  "/tmp/AddressDB.pdb",
		OutputDB: "/tmp/AddressDB.pdb",
	}
	decls := []PrefDecl{{Creator: 0x70737973, ID: 1}}
	hdrs := BuildHeaders(ctx, 3, true, decls)
	want := []Header{
		{"Daemon", "palmsync"},
		{"Version", "1.0"},
		{"InputDB", "/tmp/AddressDB.pdb"},
		{"OutputDB", "/tmp/AddressDB.pdb"},
		{"SPCPipe", "3"},
		{"Preference", "psys/1/0"},
	}
	if len(hdrs) != len(want) {
		t.Fatalf("got %d headers, want %d", len(hdrs), len(want))
	}
	for i := range want {
		if hdrs[i] != want[i] {
			t.Errorf("header %d = %+v, want %+v", i, hdrs[i], want[i])
		}
	}
}

func TestSPCReadWritePrefRoundTrip(t *testing.T) {
	store := map[PrefDecl][]byte{}
	ctx := RunContext{
		HasDB: true,
		DB:    dlp.DBInfo{Creator: 1, Type: 1, Name: "AddressDB"},
		Prefs: func(creator uint32, id uint16) (uint16, []byte, bool) {
			v, ok := store[PrefDecl{Creator: creator, ID: id}]
			return 1, v, ok
		},
		WritePref: func(creator uint32, id uint16, version uint16, saved bool, data []byte) error {
			store[PrefDecl{Creator: creator, ID: id}] = append([]byte{}, data...)
			return nil
		},
	}

	writeReq := spcRequest{Op: SPCOpWritePref, Payload: append(
		[]byte{0x70, 0x73, 0x79, 0x73, 0, 1, 1, 0, 1}, // creator=psys id=1 saved=1 version=1
		[]byte("hello")...,
	)}
	resp := handleSPC(ctx, writeReq)
	if resp.Status != SPCStatusOK {
		t.Fatalf("write pref status = %d, want OK", resp.Status)
	}

	readReq := spcRequest{Op: SPCOpReadPref, Payload: []byte{0x70, 0x73, 0x79, 0x73, 0, 1, 1}}
	resp = handleSPC(ctx, readReq)
	if resp.Status != SPCStatusOK || string(resp.Payload) != "hello" {
		t.Fatalf("read pref = (%d,%q), want (OK,%q)", resp.Status, resp.Payload, "hello")
	}
}

func TestSPCGetDBInfo(t *testing.T) {
	ctx := RunContext{HasDB: true, DB: dlp.DBInfo{Name: "AddressDB", Creator: 1, Type: 2}}
	resp := handleSPC(ctx, spcRequest{Op: SPCOpGetDBInfo})
	if resp.Status != SPCStatusOK {
		t.Fatalf("status = %d, want OK", resp.Status)
	}
	if len(resp.Payload) < 32 || string(resp.Payload[:len("AddressDB")]) != "AddressDB" {
		t.Fatalf("encoded dbinfo does not start with the database name: %v", resp.Payload)
	}

	ctx.HasDB = false
	resp = handleSPC(ctx, spcRequest{Op: SPCOpGetDBInfo})
	if resp.Status != SPCStatusNoDB {
		t.Fatalf("status = %d, want SPCStatusNoDB", resp.Status)
	}
}
