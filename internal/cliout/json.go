package cliout

import (
	"encoding/json"
)

// JSONFormatter renders output as JSON.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) Format(data interface{}) (string, error) {
	var out []byte
	var err error
	if f.Indent {
		out, err = json.MarshalIndent(data, "", "  ")
	} else {
		out, err = json.Marshal(data)
	}
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (f *JSONFormatter) FormatError(serr StructuredError) (string, error) {
	return f.Format(serr)
}

// FormatTable converts tabular data to a JSON array of objects keyed by
// lowercased header names, so scripted callers get stable field names.
func (f *JSONFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	return f.Format(rowsToObjects(headers, rows))
}
