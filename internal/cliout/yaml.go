package cliout

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// YAMLFormatter renders output as YAML.
type YAMLFormatter struct{}

func (f *YAMLFormatter) Format(data interface{}) (string, error) {
	out, err := yaml.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (f *YAMLFormatter) FormatError(serr StructuredError) (string, error) {
	return f.Format(serr)
}

func (f *YAMLFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	return f.Format(rowsToObjects(headers, rows))
}

// rowsToObjects maps each row onto its headers. Headers are lowercased
// with spaces collapsed to underscores; short rows pad with empty strings.
func rowsToObjects(headers []string, rows [][]string) []map[string]string {
	keys := make([]string, len(headers))
	for i, h := range headers {
		keys[i] = strings.ReplaceAll(strings.ToLower(h), " ", "_")
	}
	result := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		obj := make(map[string]string, len(keys))
		for i, key := range keys {
			if i < len(row) {
				obj[key] = row[i]
			} else {
				obj[key] = ""
			}
		}
		result = append(result, obj)
	}
	return result
}
