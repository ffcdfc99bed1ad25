// Package manifest decodes extension manifest files and decides whether the
// capabilities they declare make an extension network-facing.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	errs "crxharvest/pkg/errors"
)

// FileName is the manifest entry inside a package
const FileName = "manifest.json"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Descriptor is a decoded manifest. Unknown keys are preserved.
type Descriptor map[string]interface{}

// Parse decodes a manifest document. A leading UTF-8 byte order mark is ignored.
func Parse(data []byte) (Descriptor, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, errs.Decode("parse manifest", err)
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, errs.Decode("parse manifest", fmt.Errorf("manifest is a %T, want an object", v))
	}
	return Descriptor(obj), nil
}

// Load reads and parses the manifest at path
func Load(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Storage("read manifest", err)
	}
	return Parse(data)
}

// StrippedKeys are removed from descriptors that are not network related
var StrippedKeys = []string{
	"update_url",
	"name",
	"description",
	"short_name",
	"icons",
	"version",
	"default_locale",
}

// Strip removes the StrippedKeys in place and returns d
func (d Descriptor) Strip() Descriptor {
	for _, key := range StrippedKeys {
		delete(d, key)
	}
	return d
}

// Keys returns the top-level keys, sorted
func (d Descriptor) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether key is present, whatever its value
func (d Descriptor) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// JSON encodes the descriptor without HTML escaping
func (d Descriptor) JSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]interface{}(d)); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
