package querier

import (
	"bufio"
	"bytes"
	"math/rand/v2"
	"os"
	"regexp"
	"strings"
	"sync"
	"text/template"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"graphbench/internal/sampler"
)

var (
	// ErrIdsNotInitialized is a configuration error: the query asks for ids
	// but no loaded id supplier backs it.
	ErrIdsNotInitialized = errors.New("query uses id placeholders but no ids are loaded")
	// ErrIdAbsent means the sampled chain ended before a requested depth.
	ErrIdAbsent = errors.New("id chain ends before the requested depth")
)

var (
	nakedId  = regexp.MustCompile(`\{\{\s*id\s+(\d+)\s*\}\}`)
	idsUsage = regexp.MustCompile(`\{\{\s*(id\s+\d+|ids|\.Id\s|\.Ids)`)
)

// TemplateEngine handles parsing and executing query templates
type TemplateEngine struct {
	fileCache map[string][]string
	mu        sync.RWMutex
	funcMap   template.FuncMap
}

// TemplateData is passed to the execution context
type TemplateData struct {
	UUID string

	chain  *sampler.Chain
	absent bool
}

func NewTemplateData(chain *sampler.Chain) *TemplateData {
	return &TemplateData{UUID: uuid.New().String(), chain: chain}
}

// Id resolves the id at depth in the call's chain.
func (d *TemplateData) Id(depth int) string {
	if d.chain == nil {
		d.absent = true
		return ""
	}
	id, ok := d.chain.GetIdAt(depth)
	if !ok {
		d.absent = true
	}
	return id
}

// Ids is the call's chain down to the configured depth, comma separated.
func (d *TemplateData) Ids() string {
	if d.chain == nil {
		d.absent = true
		return ""
	}
	return strings.Join(d.chain.GetIds(), ",")
}

// NewTemplateEngine initializes the engine and its functions
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		fileCache: make(map[string][]string),
	}

	e.funcMap = template.FuncMap{
		"randomInt":    e.randomInt,
		"randomUUID":   e.randomUUID,
		"randomChoice": e.randomChoice,
		"randomLine":   e.randomLine,
	}

	return e
}

// Preprocess converts shorthand placeholders to template syntax:
// {{id 2}} to {{.Id 2}}, {{ids}} to {{.Ids}} and {{uuid}} to {{.UUID}}.
func (e *TemplateEngine) Preprocess(input string) string {
	s := nakedId.ReplaceAllString(input, "{{.Id $1}}")
	s = strings.ReplaceAll(s, "{{ids}}", "{{.Ids}}")
	s = strings.ReplaceAll(s, "{{uuid}}", "{{.UUID}}")
	s = strings.ReplaceAll(s, "{{requestID}}", "{{.UUID}}")
	return s
}

// UsesIds reports whether text references sampled ids.
func UsesIds(text string) bool {
	return idsUsage.MatchString(text)
}

// Parse creates a new template with the engine's functions
func (e *TemplateEngine) Parse(name, text string) (*template.Template, error) {
	t, err := template.New(name).Funcs(e.funcMap).Option("missingkey=error").Parse(e.Preprocess(text))
	return t, errors.Wrapf(err, "parsing query template %s", name)
}

// Execute runs the template with data. It returns ErrIdAbsent when the
// chain could not supply an id the template asked for.
func (e *TemplateEngine) Execute(t *template.Template, data *TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", errors.Wrap(err, "rendering query")
	}
	if data.absent {
		return "", ErrIdAbsent
	}
	return buf.String(), nil
}

// --- Functions ---

func (e *TemplateEngine) randomInt(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return rand.IntN(hi-lo) + lo
}

func (e *TemplateEngine) randomUUID() string {
	return uuid.New().String()
}

func (e *TemplateEngine) randomChoice(choices ...string) string {
	if len(choices) == 0 {
		return ""
	}
	return choices[rand.IntN(len(choices))]
}

func (e *TemplateEngine) randomLine(filename string) (string, error) {
	e.mu.RLock()
	lines, ok := e.fileCache[filename]
	e.mu.RUnlock()

	if !ok {
		var err error
		if lines, err = e.loadLines(filename); err != nil {
			return "", err
		}
	}
	if len(lines) == 0 {
		return "", nil
	}
	return lines[rand.IntN(len(lines))], nil
}

func (e *TemplateEngine) loadLines(filename string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Double check
	if lines, ok := e.fileCache[filename]; ok {
		return lines, nil
	}

	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read file '%s'", filename)
	}

	scanner := bufio.NewScanner(bytes.NewReader(content))
	var loaded []string
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			loaded = append(loaded, line)
		}
	}
	e.fileCache[filename] = loaded
	return loaded, nil
}
