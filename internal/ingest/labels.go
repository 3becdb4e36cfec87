package ingest

import (
	"context"
	"io"
	"regexp"
	"strings"

	"github.com/sells-group/precinct-map/internal/fetcher"
)

var censusCode = regexp.MustCompile(`^[A-Z]{1,3}\d{2,3}_\d{3,4}[A-Z]*$`)

// IsCensusCode reports whether s looks like an ACS variable code such as
// DP04_0047PE.
func IsCensusCode(s string) bool {
	return censusCode.MatchString(strings.TrimSpace(s))
}

// Labels maps ACS variable codes to their descriptive labels and back.
type Labels struct {
	byCode  map[string]string
	byLabel map[string]string
}

// NewLabels builds Labels from code→label pairs.
func NewLabels(codeToLabel map[string]string) *Labels {
	l := &Labels{
		byCode:  make(map[string]string, len(codeToLabel)),
		byLabel: make(map[string]string, len(codeToLabel)),
	}
	for code, label := range codeToLabel {
		l.add(code, label)
	}
	return l
}

func (l *Labels) add(code, label string) {
	code, label = strings.TrimSpace(code), strings.TrimSpace(label)
	if code == "" || label == "" {
		return
	}
	l.byCode[code] = label
	l.byLabel[label] = code
}

// ReadLabels parses a "Variable,Label" CSV. Either column may hold the code;
// rows are oriented by which side looks like one.
func ReadLabels(ctx context.Context, r io.Reader) (*Labels, error) {
	l := NewLabels(nil)
	recCh, errCh := fetcher.StreamRecords(ctx, r, fetcher.CSVOptions{LazyQuotes: true, TrimSpace: true})
	for rec := range recCh {
		variable, label := rec["Variable"], rec["Label"]
		if IsCensusCode(label) && !IsCensusCode(variable) {
			variable, label = label, variable
		}
		l.add(variable, label)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return l, nil
}

// Len returns the number of known variables.
func (l *Labels) Len() int {
	if l == nil {
		return 0
	}
	return len(l.byCode)
}

// Code resolves a catalog variable to a census code. Variables that already
// are codes resolve to themselves.
func (l *Labels) Code(variable string) (string, bool) {
	if IsCensusCode(variable) {
		return variable, true
	}
	if l == nil {
		return "", false
	}
	code, ok := l.byLabel[variable]
	return code, ok
}

// Label returns the label of code.
func (l *Labels) Label(code string) (string, bool) {
	if l == nil {
		return "", false
	}
	label, ok := l.byCode[code]
	return label, ok
}
