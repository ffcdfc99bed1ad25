// Package crxtest builds in-memory extension packages for tests.
package crxtest

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
)

// Zip returns a zip archive holding files (name -> contents)
func Zip(files map[string]string) []byte {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			panic(err)
		}
		if _, err := w.Write([]byte(files[name])); err != nil {
			panic(err)
		}
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// CRX3 wraps files in a version 3 container with a dummy signed header
func CRX3(files map[string]string) []byte {
	header := []byte("signed-header-proto")
	var buf bytes.Buffer
	buf.WriteString("Cr24")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(3))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(header)))
	buf.Write(header)
	buf.Write(Zip(files))
	return buf.Bytes()
}

// CRX2 wraps files in a version 2 container with a dummy key and signature
func CRX2(files map[string]string) []byte {
	key := []byte("public-key-bytes")
	sig := []byte("signature")
	var buf bytes.Buffer
	buf.WriteString("Cr24")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(key)))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(sig)))
	buf.Write(key)
	buf.Write(sig)
	buf.Write(Zip(files))
	return buf.Bytes()
}

// WriteCRX3 writes a CRX3 package for files to dir/<id>.crx and returns its path
func WriteCRX3(dir, id string, files map[string]string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	p := filepath.Join(dir, id+".crx")
	return p, os.WriteFile(p, CRX3(files), 0644)
}
