// Package report writes run summaries to disk.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"graphbench/internal/runner"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCSV  Format = "csv"
)

var AllFormats = []Format{FormatJSON, FormatYAML, FormatCSV}

// ParseFormats accepts a comma separated list such as "json,csv".
func ParseFormats(s string) ([]Format, error) {
	if strings.TrimSpace(s) == "" {
		return AllFormats, nil
	}
	var out []Format
	for _, part := range strings.Split(s, ",") {
		f := Format(strings.ToLower(strings.TrimSpace(part)))
		switch f {
		case FormatJSON, FormatYAML, FormatCSV:
			out = append(out, f)
		default:
			return nil, errors.Errorf("unknown report format %q", part)
		}
	}
	return out, nil
}

// Document is what the json and yaml reports contain.
type Document struct {
	Config  runner.Config  `json:"config" yaml:"config"`
	Summary runner.Summary `json:"summary" yaml:"summary"`
}

func ExportJSON(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(doc), "encoding json report")
}

func ExportYAML(w io.Writer, doc Document) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return errors.Wrap(err, "encoding yaml report")
	}
	return enc.Close()
}

// ExportCSV writes one row per timeline second with the run totals repeated on each row,
// then the error groups under their own header.
func ExportCSV(w io.Writer, s runner.Summary) error {
	cw := csv.NewWriter(w)

	header := []string{
		"timeStamp", "requests", "errors",
		"label", "unit", "targetRate", "p50Ms", "p99Ms",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, b := range s.Timeline {
		record := []string{
			strconv.FormatInt(b.Timestamp, 10),
			strconv.Itoa(b.Requests),
			strconv.Itoa(b.Errors),
			s.Name,
			s.Unit,
			strconv.Itoa(s.TargetRate),
			formatMs(s.Latency.P50Ms),
			formatMs(s.Latency.P99Ms),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	if len(s.ErrorGroups) > 0 {
		if err := cw.Write([]string{"errorType", "message", "count"}); err != nil {
			return err
		}
		for _, g := range s.ErrorGroups {
			if err := cw.Write([]string{g.Type, g.Message, strconv.FormatUint(g.Count, 10)}); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return errors.Wrap(cw.Error(), "writing csv report")
}

func formatMs(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// WriteFiles writes prefix.<format> for each format and returns the paths written.
func WriteFiles(prefix string, doc Document, formats []Format) ([]string, error) {
	var written []string
	for _, f := range formats {
		path := fmt.Sprintf("%s.%s", prefix, f)
		if err := writeFile(path, func(w io.Writer) error {
			switch f {
			case FormatJSON:
				return ExportJSON(w, doc)
			case FormatYAML:
				return ExportYAML(w, doc)
			default:
				return ExportCSV(w, doc.Summary)
			}
		}); err != nil {
			return written, err
		}
		logrus.Debugf("wrote %s", path)
		written = append(written, path)
	}
	return written, nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "closing %s", path)
}
