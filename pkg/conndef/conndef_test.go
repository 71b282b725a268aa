package conndef

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const sample = `<?xml version="1.0"?>
<connectiondefs xmlns="http://www.dabodev.com"
xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
	<connection dbtype="postgres">
		<host>db.example.com</host>
		<database>orders</database>
		<user>app</user>
		<password>s3cret</password>
		<port>5432</port>
	</connection>
	<connection dbtype="sqlite">
		<host>local</host>
		<database>/var/lib/dabo/demo.db</database>
		<user>demo</user>
		<password></password>
		<port></port>
	</connection>
</connectiondefs>
`

func TestParse(t *testing.T) {
	defs, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("got %d definitions, want 2", len(defs))
	}
	pg, ok := defs["app@db.example.com"]
	if !ok {
		t.Fatalf("missing app@db.example.com in %v", defs)
	}
	want := ConnectionDef{DBType: "postgres", Host: "db.example.com", Database: "orders", User: "app", Password: "s3cret", Port: "5432"}
	if pg != want {
		t.Errorf("got %+v, want %+v", pg, want)
	}
}

func TestRoundTrip(t *testing.T) {
	sets := [][]ConnectionDef{
		{{DBType: "postgres", Host: "h", Database: "d", User: "u", Password: "p", Port: "1"}},
		{
			{DBType: "sqlite", Host: "a", Database: "x.db", User: "u1"},
			{DBType: "postgres", Host: "b", Database: "y", User: "u2", Password: `<&"'>`, Port: "5432"},
			{DBType: "MySQL", Host: "c", Database: "z", User: "u3", Password: "pw", Port: "3306"},
		},
	}
	for i, defs := range sets {
		out, err := Generate(defs...)
		if err != nil {
			t.Fatalf("set %d: Generate: %v", i, err)
		}
		got, err := Parse(strings.NewReader(string(out)))
		if err != nil {
			t.Fatalf("set %d: Parse: %v\n%s", i, err, out)
		}
		want := make(map[string]ConnectionDef)
		for _, d := range defs {
			want[d.Key()] = d
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("set %d: round trip = %v, want %v", i, got, want)
		}
	}
}

func TestGenerateNamespace(t *testing.T) {
	out, err := Generate(ConnectionDef{DBType: "sqlite", Host: "h", User: "u"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), `xmlns="http://www.dabodev.com"`) {
		t.Errorf("missing namespace:\n%s", out)
	}
	if !strings.Contains(string(out), `<connection dbtype="sqlite">`) {
		t.Errorf("missing dbtype attribute:\n%s", out)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conns.cnxml")
	if err := os.WriteFile(path, []byte(sample), 0644); err != nil {
		t.Fatal(err)
	}
	fromFile, err := Load(path)
	if err != nil {
		t.Fatalf("Load file: %v", err)
	}
	fromXML, err := Load(sample)
	if err != nil {
		t.Fatalf("Load raw: %v", err)
	}
	if !reflect.DeepEqual(fromFile, fromXML) {
		t.Error("file and raw XML disagree")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.cnxml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		def        ConnectionDef
		wantDriver string
		wantDSN    string
		wantErr    bool
	}{
		{
			def:        ConnectionDef{DBType: "postgres", Host: "db", Database: "orders", User: "app", Password: "p@ss", Port: "6543"},
			wantDriver: "postgres",
			wantDSN:    "postgres://app:p%40ss@db:6543/orders?sslmode=disable",
		},
		{
			def:        ConnectionDef{DBType: "PostgreSQL", Host: "db", Database: "orders"},
			wantDriver: "postgres",
			wantDSN:    "postgres://db:5432/orders?sslmode=disable",
		},
		{
			def:        ConnectionDef{DBType: "sqlite", Database: "/tmp/x.db"},
			wantDriver: "sqlite3",
			wantDSN:    "/tmp/x.db",
		},
		{def: ConnectionDef{DBType: "sqlite"}, wantErr: true},
		{def: ConnectionDef{DBType: "oracle", Host: "h"}, wantErr: true},
	}
	for _, tt := range tests {
		driver, dsn, err := tt.def.DSN()
		if (err != nil) != tt.wantErr {
			t.Errorf("%+v: err = %v", tt.def, err)
			continue
		}
		if driver != tt.wantDriver || dsn != tt.wantDSN {
			t.Errorf("%+v: DSN = %q %q, want %q %q", tt.def, driver, dsn, tt.wantDriver, tt.wantDSN)
		}
	}
}

func TestSorted(t *testing.T) {
	defs := map[string]ConnectionDef{
		"b@h": {User: "b", Host: "h"},
		"a@h": {User: "a", Host: "h"},
	}
	got := Sorted(defs)
	if got[0].User != "a" || got[1].User != "b" {
		t.Errorf("Sorted = %v", got)
	}
}
