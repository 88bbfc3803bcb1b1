// Package fasta parses and validates FASTA DNA barcode input, including
// UNITE-style headers carrying taxonomy annotations.
package fasta

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
)

// Validation errors
var (
	ErrNoRecords        = errors.New("no FASTA records found")
	ErrMissingHeader    = errors.New("sequence data before first header")
	ErrEmptyHeader      = errors.New("empty FASTA header")
	ErrEmptySequence    = errors.New("empty sequence")
	ErrDuplicateID      = errors.New("duplicate sequence ID")
	ErrTooManySequences = errors.New("too many sequences")
	ErrInvalidSequence  = errors.New("invalid sequence character")
)

// Ranks lists the taxonomy ranks searched, in canonical order.
var Ranks = []string{"phylum", "class", "order", "family", "genus", "species"}

// rankPrefixes maps UNITE annotation prefixes to rank names.
// The kingdom prefix (k__) is parsed but not searched.
var rankPrefixes = map[string]string{
	"k__": "kingdom",
	"p__": "phylum",
	"c__": "class",
	"o__": "order",
	"f__": "family",
	"g__": "genus",
	"s__": "species",
}

// Record is a single FASTA record. Labels holds per-rank taxonomy labels
// parsed from a UNITE header; it is empty for plain headers.
type Record struct {
	ID       string
	Header   string
	Sequence string
	Labels   map[string]string
	SH       string // UNITE species hypothesis accession, if present
}

// Parse reads multi-record FASTA text. Header lines start with '>'; all
// following non-header lines are concatenated into the record's sequence.
// Headers are parsed with ParseHeader, so UNITE taxonomy annotations are
// picked up when present.
func Parse(text string) ([]Record, error) {
	var records []Record
	var current *Record

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			if current != nil {
				records = append(records, *current)
			}
			rec, err := parseHeaderLine(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			current = rec
			continue
		}
		if current == nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, ErrMissingHeader)
		}
		current.Sequence += line
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read FASTA input: %w", err)
	}
	if current != nil {
		records = append(records, *current)
	}

	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	for _, rec := range records {
		if rec.Sequence == "" {
			return nil, fmt.Errorf("record %s: %w", rec.ID, ErrEmptySequence)
		}
	}
	return records, nil
}

// parseHeaderLine builds a Record from a '>' header line.
func parseHeaderLine(line string) (*Record, error) {
	header := strings.TrimSpace(strings.TrimPrefix(line, ">"))
	if header == "" {
		return nil, ErrEmptyHeader
	}
	id, labels, sh := ParseHeader(header)
	return &Record{
		ID:     id,
		Header: header,
		Labels: labels,
		SH:     sh,
	}, nil
}

// ParseHeader splits a FASTA header into sequence ID, taxonomy labels and
// species hypothesis accession. UNITE headers have the form
//
//	SEQID|k__Fungi;p__Ascomycota;...;s__Amanita_muscaria|SH1234567.09FU
//
// Plain headers yield the first whitespace-delimited token as the ID with
// no labels.
func ParseHeader(header string) (id string, labels map[string]string, sh string) {
	parts := strings.Split(header, "|")
	id = strings.Fields(parts[0])[0]
	labels = make(map[string]string)

	if len(parts) < 2 {
		return id, labels, ""
	}

	for _, field := range strings.Split(parts[1], ";") {
		field = strings.TrimSpace(field)
		for prefix, rank := range rankPrefixes {
			if strings.HasPrefix(field, prefix) {
				if label := field[len(prefix):]; label != "" {
					labels[rank] = label
				}
				break
			}
		}
	}
	if len(parts) >= 3 {
		sh = strings.TrimSpace(parts[2])
	}
	return id, labels, sh
}

// Validate enforces input rules on parsed records: unique sequence IDs,
// at most maxSequences records, and IUPAC nucleotide alphabet only.
func Validate(records []Record, maxSequences int) error {
	if len(records) == 0 {
		return ErrNoRecords
	}
	if maxSequences > 0 && len(records) > maxSequences {
		return fmt.Errorf("%w: got %d, maximum is %d", ErrTooManySequences, len(records), maxSequences)
	}

	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		if seen[rec.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
		}
		seen[rec.ID] = true

		if err := checkAlphabet(rec.Sequence); err != nil {
			return fmt.Errorf("record %s: %w", rec.ID, err)
		}
	}
	return nil
}

// checkAlphabet verifies a sequence contains only IUPAC nucleotide codes.
// Gap characters ('-', '.') are allowed; aligned reference sequences carry them.
func checkAlphabet(seq string) error {
	for i := 0; i < len(seq); i++ {
		c := seq[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		switch c {
		case 'A', 'C', 'G', 'T', 'U', 'R', 'Y', 'S', 'W', 'K', 'M', 'B', 'D', 'H', 'V', 'N', '-', '.':
		default:
			return fmt.Errorf("%w: %q at position %d", ErrInvalidSequence, seq[i], i)
		}
	}
	return nil
}

// IDs returns the sequence IDs of records in input order.
func IDs(records []Record) []string {
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	return ids
}
