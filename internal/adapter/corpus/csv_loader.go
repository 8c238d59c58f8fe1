package corpus

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"medrag/internal/adapter/fs"
	"medrag/internal/domain"
)

// Required header columns.
const (
	ColSpecialty     = "medical_specialty"
	ColSampleName    = "sample_name"
	ColTranscription = "transcription"
)

// CSVLoader reads transcription records from CSV files matched by glob patterns.
type CSVLoader struct {
	root     string
	walker   *fs.Walker
	idColumn string
	logger   *zap.Logger
}

// NewCSVLoader creates a loader over patterns relative to root, skipping
// files matched by excludes. An empty idColumn makes source IDs content hashes.
func NewCSVLoader(root string, patterns, excludes []string, idColumn string, logger *zap.Logger) *CSVLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVLoader{
		root:     root,
		walker:   fs.NewWalker(patterns, excludes),
		idColumn: idColumn,
		logger:   logger,
	}
}

// Load returns every record with a non-blank transcription across all
// matched files. Zero matched files is not an error; the index build
// reports the empty corpus.
func (l *CSVLoader) Load() ([]domain.Record, error) {
	files, err := l.walker.Walk(l.root)
	if err != nil {
		return nil, domain.NewError(domain.ErrCorpus, "discover corpus", err)
	}
	if len(files) == 0 {
		l.logger.Warn("no corpus files matched", zap.String("root", l.root))
	}

	var records []domain.Record
	seen := make(map[string]int)
	for _, f := range files {
		recs, err := l.loadFile(f.Path)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if n, dup := seen[r.SourceID]; dup {
				seen[r.SourceID] = n + 1
				if l.idColumn != "" {
					return nil, domain.NewError(domain.ErrCorpus, "load "+f.Path,
						fmt.Errorf("duplicate %s value %q", l.idColumn, r.SourceID))
				}
				// identical content in two rows; keep both with distinct IDs
				r.SourceID = fmt.Sprintf("%s-%d", r.SourceID, n+1)
			} else {
				seen[r.SourceID] = 0
			}
			records = append(records, r)
		}
		l.logger.Info("loaded corpus file",
			zap.String("path", f.Path),
			zap.Int("records", len(recs)))
	}
	return records, nil
}

func (l *CSVLoader) loadFile(path string) ([]domain.Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, domain.NewError(domain.ErrCorpus, "open "+path, err)
	}
	defer file.Close()

	recs, err := ReadRecords(file, l.idColumn)
	if err != nil {
		return nil, domain.NewError(domain.ErrCorpus, "read "+path, err)
	}
	return recs, nil
}

// ReadRecords parses CSV with a header row. Unknown columns are ignored and
// rows with a blank transcription are skipped. Row numbers are 0-based data rows.
func ReadRecords(r io.Reader, idColumn string) ([]domain.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("missing header row")
		}
		return nil, err
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		cols[strings.ToLower(name)] = i
	}

	var missing []string
	required := []string{ColSpecialty, ColSampleName, ColTranscription}
	if idColumn != "" {
		required = append(required, strings.ToLower(idColumn))
	}
	for _, c := range required {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required column(s): %s", strings.Join(missing, ", "))
	}

	field := func(row []string, name string) string {
		i := cols[name]
		if i >= len(row) {
			return ""
		}
		return row[i]
	}

	var records []domain.Record
	for row := 0; ; row++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		rec := domain.Record{
			Row:           row,
			Specialty:     strings.TrimSpace(field(fields, ColSpecialty)),
			SampleName:    strings.TrimSpace(field(fields, ColSampleName)),
			Transcription: field(fields, ColTranscription),
		}
		if strings.TrimSpace(rec.Transcription) == "" {
			continue
		}
		if idColumn != "" {
			rec.SourceID = strings.TrimSpace(field(fields, strings.ToLower(idColumn)))
			if rec.SourceID == "" {
				return nil, fmt.Errorf("row %d: blank %s", row, idColumn)
			}
		} else {
			rec.SourceID = ContentID(rec)
		}
		records = append(records, rec)
	}
	return records, nil
}

// ContentID derives a stable source ID from a record's content.
func ContentID(r domain.Record) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(r.Specialty)))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(r.SampleName)))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(r.Transcription)))
	return hex.EncodeToString(h.Sum(nil)[:8])
}
