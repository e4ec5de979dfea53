package params

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// MaxNameLength is the longest parameter name a flight controller accepts.
const MaxNameLength = 16

var namePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// ValidName reports whether name is a syntactically valid parameter name.
func ValidName(name string) bool {
	return len(name) <= MaxNameLength && namePattern.MatchString(name)
}

// Parse reads a parameter file. Each non-empty line holds a name and a value
// separated by a comma, a tab or spaces, optionally followed by a # comment.
// Lines starting with # are ignored.
func Parse(r io.Reader) (*Dict, error) {
	d := NewDict()
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		comment := ""
		if idx := strings.Index(line, "#"); idx >= 0 {
			comment = strings.TrimSpace(line[idx+1:])
			line = strings.TrimSpace(line[:idx])
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected NAME,VALUE", lineNo)
		}
		name := fields[0]
		if !ValidName(name) {
			return nil, fmt.Errorf("line %d: invalid parameter name %q", lineNo, name)
		}
		value, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: parameter %s: %w", lineNo, name, err)
		}
		if d.Has(name) {
			return nil, fmt.Errorf("line %d: duplicated parameter %s", lineNo, name)
		}
		d.Set(name, Value{Value: value, Comment: comment})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return d, nil
}

// ParseFile reads the parameter file at path.
func ParseFile(path string) (*Dict, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	d, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return d, nil
}

// Annotator returns comment lines written above a parameter.
type Annotator func(name string) []string

// Write renders d in step file format.
func Write(w io.Writer, d *Dict, annotate Annotator) error {
	bw := bufio.NewWriter(w)
	var err error
	d.Range(func(name string, value Value) bool {
		if annotate != nil {
			for _, line := range annotate(name) {
				if _, err = fmt.Fprintf(bw, "# %s\n", line); err != nil {
					return false
				}
			}
		}
		if value.Comment != "" {
			_, err = fmt.Fprintf(bw, "%s,%s  # %s\n", name, FormatValue(value.Value), value.Comment)
		} else {
			_, err = fmt.Fprintf(bw, "%s,%s\n", name, FormatValue(value.Value))
		}
		return err == nil
	})
	if err != nil {
		return err
	}
	return bw.Flush()
}

// WriteFile replaces the file at path with the rendered dictionary.
func WriteFile(path string, d *Dict, annotate Annotator) error {
	var buf bytes.Buffer
	if err := Write(&buf, d, annotate); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
