// Package conndef reads and writes Dabo connection definition files.
//
// A file is a connectiondefs document holding one connection element per
// database:
//
//	<connectiondefs xmlns="http://www.dabodev.com">
//		<connection dbtype="postgres">
//			<host>db.example.com</host>
//			<database>orders</database>
//			<user>app</user>
//			<password>secret</password>
//			<port>5432</port>
//		</connection>
//	</connectiondefs>
package conndef

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
)

// Namespace is the XML namespace of connection definition files.
const Namespace = "http://www.dabodev.com"

// ConnectionDef describes one database connection.
type ConnectionDef struct {
	DBType   string `xml:"dbtype,attr" json:"dbtype"`
	Host     string `xml:"host" json:"host"`
	Database string `xml:"database" json:"database"`
	User     string `xml:"user" json:"user"`
	Password string `xml:"password" json:"-"`
	Port     string `xml:"port" json:"port"`
}

// Key returns the user@host name a definition is stored under.
func (c ConnectionDef) Key() string {
	return c.User + "@" + c.Host
}

type document struct {
	XMLName     xml.Name        `xml:"connectiondefs"`
	Connections []ConnectionDef `xml:"connection"`
}

// Parse reads a connection definition document. Definitions are keyed by
// user@host; a later definition with the same key replaces an earlier one.
func Parse(r io.Reader) (map[string]ConnectionDef, error) {
	var doc document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse connection definitions: %w", err)
	}
	defs := make(map[string]ConnectionDef, len(doc.Connections))
	for _, c := range doc.Connections {
		c = c.trimmed()
		defs[c.Key()] = c
	}
	return defs, nil
}

func (c ConnectionDef) trimmed() ConnectionDef {
	c.DBType = strings.TrimSpace(c.DBType)
	c.Host = strings.TrimSpace(c.Host)
	c.Database = strings.TrimSpace(c.Database)
	c.User = strings.TrimSpace(c.User)
	c.Port = strings.TrimSpace(c.Port)
	return c
}

// Load parses ref as a file name if such a file exists, and as raw XML
// otherwise.
func Load(ref string) (map[string]ConnectionDef, error) {
	f, err := os.Open(ref)
	if err == nil {
		defer f.Close()
		return Parse(f)
	}
	if strings.HasPrefix(strings.TrimSpace(ref), "<") {
		return Parse(strings.NewReader(ref))
	}
	return nil, fmt.Errorf("open connection definitions: %w", err)
}

const header = `<?xml version="1.0"?>
<connectiondefs xmlns="` + Namespace + `"
xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"
xsi:schemaLocation="http://www.dabodev.com conn.xsd"
xsi:noNamespaceSchemaLocation="http://dabodev.com/schema/conn.xsd">
`

const footer = `
</connectiondefs>
`

// Generate renders defs as a connection definition document.
func Generate(defs ...ConnectionDef) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(header)
	for _, c := range defs {
		out, err := xml.MarshalIndent(struct {
			XMLName xml.Name `xml:"connection"`
			ConnectionDef
		}{ConnectionDef: c}, "\t", "\t")
		if err != nil {
			return nil, fmt.Errorf("generate connection %s: %w", c.Key(), err)
		}
		buf.WriteByte('\n')
		buf.Write(out)
	}
	buf.WriteString(footer)
	return buf.Bytes(), nil
}

// Sorted returns the definitions of defs ordered by key.
func Sorted(defs map[string]ConnectionDef) []ConnectionDef {
	keys := make([]string, 0, len(defs))
	for k := range defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]ConnectionDef, len(keys))
	for i, k := range keys {
		out[i] = defs[k]
	}
	return out
}

// DSN returns the database/sql driver name and data source name for c.
func (c ConnectionDef) DSN() (driver, dsn string, err error) {
	switch strings.ToLower(c.DBType) {
	case "postgres", "postgresql":
		port := c.Port
		if port == "" {
			port = "5432"
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.User, c.Password),
			Host:     c.Host + ":" + port,
			Path:     "/" + c.Database,
			RawQuery: "sslmode=disable",
		}
		if c.User == "" {
			u.User = nil
		}
		return "postgres", u.String(), nil
	case "sqlite", "sqlite3":
		if c.Database == "" {
			return "", "", fmt.Errorf("connection %s: sqlite needs a database path", c.Key())
		}
		return "sqlite3", c.Database, nil
	}
	return "", "", fmt.Errorf("connection %s: unsupported dbtype %q", c.Key(), c.DBType)
}
