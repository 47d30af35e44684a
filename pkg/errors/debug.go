package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// PGFields is the subset of a Postgres error worth logging.
type PGFields struct {
	Code       string `json:"pg_code,omitempty"`
	Constraint string `json:"pg_constraint,omitempty"`
	Table      string `json:"pg_table,omitempty"`
	Column     string `json:"pg_column,omitempty"`
	Detail     string `json:"pg_detail,omitempty"`
	Message    string `json:"pg_message,omitempty"`
}

// ErrorDump flattens an error chain for structured logs.
type ErrorDump struct {
	TopMessage    string   `json:"top_message"`
	Code          Code     `json:"code,omitempty"`
	Retryable     bool     `json:"retryable"`
	Stage         string   `json:"stage,omitempty"`
	CertificateID string   `json:"certificate_id,omitempty"`
	Chain         []string `json:"chain,omitempty"`
	PG            PGFields `json:"pg"`
}

// Dump walks err. Code comes from the outermost typed error; stage and
// certificate id from the first typed error in the chain that names them.
func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error(), Retryable: IsRetryable(err)}
	if top := As(err); top != nil {
		d.Code = top.code
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
		typed, ok := e.(*Error)
		if !ok {
			continue
		}
		details, _ := typed.details.(map[string]any)
		if d.Stage == "" {
			d.Stage, _ = details["stage"].(string)
		}
		if d.CertificateID == "" {
			d.CertificateID, _ = details["certificateId"].(string)
		}
	}

	d.PG = postgresFields(err)
	return d
}

func postgresFields(err error) PGFields {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return PGFields{
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return PGFields{
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}
	}
	return PGFields{}
}

// Fields renders the dump as logger fields, omitting empty values.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{
		"error":       d.TopMessage,
		"error_code":  d.Code,
		"error_chain": d.Chain,
		"retryable":   d.Retryable,
	}
	for key, value := range map[string]string{
		"stage":          d.Stage,
		"certificate_id": d.CertificateID,
		"pg_code":        d.PG.Code,
		"pg_constraint":  d.PG.Constraint,
		"pg_table":       d.PG.Table,
		"pg_column":      d.PG.Column,
		"pg_detail":      d.PG.Detail,
		"pg_message":     d.PG.Message,
	} {
		if value != "" {
			fields[key] = value
		}
	}
	return fields
}
