// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package corpus

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Hit is one bibliography entry as stored in corpus files.
type Hit struct {
	Info Info `json:"info"`
}

// Info holds the fields the loader reads from a hit. Other fields in the
// file are ignored here and preserved by the enrichment writer.
type Info struct {
	Type     string     `json:"type"`
	Title    string     `json:"title"`
	Abstract string     `json:"abstract"`
	Key      string     `json:"key"`
	EE       StringList `json:"ee"`
	Keywords StringList `json:"keywords"`
	PDFURL   string     `json:"pdf_url,omitempty"`
}

// StringList accepts a JSON string, an array of strings, or null. The
// bibliography API emits a bare string for a single value and an array
// otherwise.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (s *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}
	switch data[0] {
	case '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = StringList{v}
		return nil
	case '[':
		var v []string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = v
		return nil
	}
	return fmt.Errorf("expected string or list, got %s", data)
}

// First returns the first value or "".
func (s StringList) First() string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

// Values returns the list as a non-nil slice.
func (s StringList) Values() []string {
	if s == nil {
		return []string{}
	}
	return append([]string{}, s...)
}
