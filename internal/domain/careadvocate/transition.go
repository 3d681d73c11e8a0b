package careadvocate

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

// transitionHeader is the required first line of an upload.
var transitionHeader = []string{"member_id", "old_cx_id", "new_cx_id", "messaging_template"}

// TransitionRow moves one member from one advocate to another.
type TransitionRow struct {
	Line              int       `json:"line"`
	MemberID          uuid.UUID `json:"member_id"`
	OldAdvocateID     uuid.UUID `json:"old_cx_id"`
	NewAdvocateID     uuid.UUID `json:"new_cx_id"`
	MessagingTemplate string    `json:"messaging_template"`
}

// TransitionLogError lists everything wrong with an upload.
type TransitionLogError struct {
	Errors []string
}

func (e *TransitionLogError) Error() string {
	return "invalid transition log: " + strings.Join(e.Errors, "; ")
}

func (e *TransitionLogError) add(line int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if line > 0 {
		msg = fmt.Sprintf("row %d: %s", line, msg)
	}
	e.Errors = append(e.Errors, msg)
}

func (e *TransitionLogError) errOrNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// ParseTransitions reads an upload and checks what can be checked without
// the database: the header, id formats, self-transitions and duplicate members.
func ParseTransitions(content string) ([]TransitionRow, error) {
	r := csv.NewReader(strings.NewReader(content))
	r.FieldsPerRecord = len(transitionHeader)
	r.TrimLeadingSpace = true

	verr := &TransitionLogError{}
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		verr.add(0, "file is empty")
		return nil, verr
	}
	if err != nil || strings.Join(header, ",") != strings.Join(transitionHeader, ",") {
		verr.add(0, "header must be %q", strings.Join(transitionHeader, ","))
		return nil, verr
	}

	var rows []TransitionRow
	seen := map[uuid.UUID]int{}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			verr.add(perr.Line, "%v", perr.Err)
			continue
		}
		if err != nil {
			return nil, err
		}
		line, _ := r.FieldPos(0)
		row := TransitionRow{Line: line, MessagingTemplate: strings.TrimSpace(rec[3])}
		ok := true
		for i, dst := range []*uuid.UUID{&row.MemberID, &row.OldAdvocateID, &row.NewAdvocateID} {
			id, err := uuid.Parse(strings.TrimSpace(rec[i]))
			if err != nil {
				verr.add(line, "%s %q is not a valid id", transitionHeader[i], rec[i])
				ok = false
				continue
			}
			*dst = id
		}
		if !ok {
			continue
		}
		if row.OldAdvocateID == row.NewAdvocateID {
			verr.add(line, "old and new advocate are the same")
		}
		if first, dup := seen[row.MemberID]; dup {
			verr.add(line, "member %s already listed on row %d", row.MemberID, first)
		} else {
			seen[row.MemberID] = line
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 && len(verr.Errors) == 0 {
		verr.add(0, "file has no transitions")
	}
	if err := verr.errOrNil(); err != nil {
		return nil, err
	}
	return rows, nil
}
