package api

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/mariamrf/pegasus/internal/domain/board"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the shared validator, reporting json field names.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// RecordError reports a row that could not be decoded. The row is skipped;
// the rest of the batch is still applied.
type RecordError struct {
	Index int
	ID    string
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d (id %q): %v", e.Index, e.ID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// Record converts the wire row to a domain record.
func (c Component) Record() (board.Record, error) {
	if err := getValidator().Struct(c); err != nil {
		return board.Record{}, err
	}

	rec := board.Record{
		ID:             strings.TrimSpace(c.ID.String()),
		Kind:           board.ParseKind(c.Type),
		RawType:        c.Type,
		Content:        c.Content,
		AuthorID:       c.UserID.String(),
		AuthorEmail:    c.UserEmail,
		CreatedAt:      board.ParseWatermark(c.CreatedAt).Time(),
		LastModified:   board.ParseWatermark(c.LastModifiedAt),
		LastModifiedBy: c.LastModifiedBy.String(),
		Deleted:        bool(c.Deleted),
	}

	// Position of a deleted row is never looked at.
	if rec.Kind == board.KindText && !rec.Deleted {
		pos, err := c.Position.Board()
		if err != nil {
			return board.Record{}, err
		}
		rec.Position = pos
	}

	return rec, nil
}

// Records decodes every row of the poll. Rows that fail are reported and
// left out.
func (p *PollResponse) Records() ([]board.Record, []error) {
	records := make([]board.Record, 0, len(p.Messages))
	var errs []error
	for i, c := range p.Messages {
		rec, err := c.Record()
		if err != nil {
			errs = append(errs, &RecordError{Index: i, ID: c.ID.String(), Err: err})
			continue
		}
		records = append(records, rec)
	}
	return records, errs
}
