// Package csvcodec converts user records to and from the fixed-schema CSV format
// used by export and import.
package csvcodec

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/roster/roster/internal/apperr"
	"github.com/roster/roster/internal/model"
)

// Header is the exact column layout of the file format.
var Header = []string{"id", "name", "email", "age", "created_at", "updated_at"}

// Column positions within a row.
const (
	colID = iota
	colName
	colEmail
	colAge
	colCreatedAt
	colUpdatedAt
)

// minRowFields is the number of fields a row needs so that name, email and age are present.
const minRowFields = colAge + 1

// TimeFormat is the layout of created_at and updated_at.
const TimeFormat = time.RFC3339Nano

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Encode renders users as CSV with a header row, one row per user.
func Encode(users []*model.User) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(64 * (len(users) + 1))

	w := csv.NewWriter(&buf)
	if err := w.Write(Header); err != nil {
		return nil, apperr.Internal("write csv header", err)
	}

	row := make([]string, len(Header))
	for _, u := range users {
		row[colID] = u.ID
		row[colName] = u.Name
		row[colEmail] = u.Email
		row[colAge] = strconv.FormatUint(uint64(u.Age), 10)
		row[colCreatedAt] = u.CreatedAt.UTC().Format(TimeFormat)
		row[colUpdatedAt] = u.UpdatedAt.UTC().Format(TimeFormat)
		if err := w.Write(row); err != nil {
			return nil, apperr.Internal("write csv row", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, apperr.Internal("flush csv", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a CSV file into creation requests.
//
// The header must match Header exactly. Only name, email and age are read from each
// row; id and timestamps are regenerated on create. The first invalid row aborts
// the whole decode.
func Decode(data []byte) ([]model.CreateUserRequest, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, apperr.Schemaf("csv is empty: expected header %s", strings.Join(Header, ","))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSchema, "read csv header", err)
	}
	if !headerMatches(header) {
		return nil, apperr.Schemaf("invalid csv header %q: expected %s",
			strings.Join(header, ","), strings.Join(Header, ","))
	}

	var requests []model.CreateUserRequest
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.KindSchema, "read csv row", err)
		}

		line, _ := r.FieldPos(0)
		req, err := decodeRow(record, line)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}

	return requests, nil
}

func headerMatches(header []string) bool {
	if len(header) != len(Header) {
		return false
	}
	for i, col := range Header {
		if header[i] != col {
			return false
		}
	}
	return true
}

func decodeRow(record []string, line int) (model.CreateUserRequest, error) {
	if len(record) < minRowFields {
		return model.CreateUserRequest{}, apperr.Schemaf(
			"line %d: row has %d fields, need at least name, email and age", line, len(record))
	}

	name := strings.TrimSpace(record[colName])
	email := strings.TrimSpace(record[colEmail])
	ageStr := strings.TrimSpace(record[colAge])

	if name == "" {
		return model.CreateUserRequest{}, apperr.Validationf("line %d: name is empty", line)
	}
	if email == "" {
		return model.CreateUserRequest{}, apperr.Validationf("line %d: email is empty", line)
	}
	if ageStr == "" {
		return model.CreateUserRequest{}, apperr.Validationf("line %d: age is empty", line)
	}
	if !strings.Contains(email, "@") {
		return model.CreateUserRequest{}, apperr.Validationf("line %d: invalid email format %q", line, email)
	}

	age, err := strconv.ParseUint(ageStr, 10, 8)
	if err != nil {
		return model.CreateUserRequest{}, apperr.Validationf("line %d: invalid age %q", line, ageStr)
	}

	return model.CreateUserRequest{
		Name:  name,
		Email: model.NormalizeEmail(email),
		Age:   uint8(age),
	}, nil
}
