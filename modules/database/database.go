// Package database implements the "database" rule variant: a parametrized
// SQL statement run against the engine's data source.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gxo-labs/ruleflow/internal/module"
	"github.com/gxo-labs/ruleflow/internal/paramutil"
	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/state"
)

func init() {
	module.Register(rule.KindDatabase, NewDatabaseRule)
}

// DatabaseRule binds context values to the :name placeholders of
// desc.Script. A statement starting with "select" returns the first row:
// a scalar for one column, a column map otherwise, nil without rows. Any
// other statement returns the number of affected rows.
type DatabaseRule struct {
	desc     rule.Descriptor
	db       *sql.DB
	query    string
	names    []string
	isSelect bool
}

func NewDatabaseRule(desc rule.Descriptor, deps rule.Dependencies) (rule.Variant, error) {
	statement := strings.TrimSpace(desc.Script)
	if statement == "" {
		return nil, rferrors.NewConfigError(fmt.Sprintf("database rule '%s' has no statement", desc.Name), nil)
	}
	if deps.DB == nil {
		return nil, rferrors.NewConfigError(fmt.Sprintf("database rule '%s' requires a data source", desc.Name), nil)
	}
	dialect := deps.DBDialect
	if dialect == "" {
		dialect = DialectPostgres
	}
	query, names, err := rewriteNamed(statement, dialect)
	if err != nil {
		return nil, rferrors.NewConfigError(fmt.Sprintf("database rule '%s'", desc.Name), err)
	}
	return &DatabaseRule{
		desc:     desc,
		db:       deps.DB,
		query:    query,
		names:    names,
		isSelect: strings.HasPrefix(strings.ToLower(statement), "select"),
	}, nil
}

func (d *DatabaseRule) Kind() string { return rule.KindDatabase }

// ValidateInput rejects a context lacking a declared key or a :name
// placeholder before any statement reaches the data source.
func (d *DatabaseRule) ValidateInput(input state.Reader) error {
	if err := paramutil.RequireKeys(input, d.desc.RequiredKeys...); err != nil {
		return err
	}
	for _, name := range d.names {
		if _, ok := input.Get(name); !ok {
			return rferrors.NewValidationError(fmt.Sprintf("missing named parameter: %s", name), nil)
		}
	}
	return nil
}

func (d *DatabaseRule) Execute(ctx context.Context, input state.Reader) (interface{}, error) {
	args, err := d.bind(input)
	if err != nil {
		return nil, err
	}
	if !d.isSelect {
		res, err := d.db.ExecContext(ctx, d.query, args...)
		if err != nil {
			return nil, err
		}
		return res.RowsAffected()
	}

	rows, err := d.db.QueryContext(ctx, d.query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if !rows.Next() {
		return nil, rows.Err()
	}
	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	for i, v := range values {
		if b, ok := v.([]byte); ok {
			values[i] = string(b)
		}
	}
	if len(cols) == 1 {
		return values[0], nil
	}
	row := make(map[string]interface{}, len(cols))
	for i, c := range cols {
		row[c] = values[i]
	}
	return row, nil
}

// bind resolves every placeholder from the context. Outcomes of other rules
// bind their value; maps and slices are sent as JSON text.
func (d *DatabaseRule) bind(input state.Reader) ([]interface{}, error) {
	args := make([]interface{}, len(d.names))
	for i, name := range d.names {
		v, ok := input.Get(name)
		if !ok {
			return nil, rferrors.NewValidationError(fmt.Sprintf("missing named parameter: %s", name), nil)
		}
		if o, isOutcome := v.(rule.Outcome); isOutcome {
			v = o.Value
		}
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, rferrors.NewValidationError(fmt.Sprintf("parameter %s is not JSON serializable", name), err)
			}
			v = string(encoded)
		}
		args[i] = v
	}
	return args, nil
}
