package protocol

import (
	"fmt"
	"sort"
	"strings"
)

// Listing is the result of listing one directory on device storage.
type Listing struct {
	Path        string   `json:"path"`
	Directories []string `json:"directories"`
	Files       []string `json:"files"`
}

// ParseListing reads directories and files from an ls response. Both members
// may be strings or lists.
func ParseListing(path string, resp Response) Listing {
	listing := Listing{
		Path:        path,
		Directories: resp.Strings("directories"),
		Files:       resp.Strings("files"),
	}
	sort.Strings(listing.Directories)
	sort.Strings(listing.Files)
	return listing
}

// FileInfo is the metadata a device reports for a stored job file.
type FileInfo struct {
	Path   string            `json:"path"`
	Name   string            `json:"name"`
	Size   *float64          `json:"size,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// ParseFileInfo flattens a fileinfo response into string fields.
func ParseFileInfo(path, name string, resp Response) FileInfo {
	info := FileInfo{Path: path, Name: name, Fields: make(map[string]string)}
	if size, ok := resp.Float("size"); ok {
		info.Size = &size
	}
	for key, value := range resp.Fields {
		if key == "status" || value == nil {
			continue
		}
		info.Fields[key] = flatten(value)
	}
	return info
}

// Keys returns the field names in sorted order.
func (f FileInfo) Keys() []string {
	keys := make([]string, 0, len(f.Fields))
	for key := range f.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func flatten(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, flatten(item))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v)
	}
}
