// Package materialize evaluates a set of named compiled expressions over a
// stream of records and assembles the results into Arrow record batches,
// one column per expression and one row per record.  This is the batch
// output path for callers building dataframes or columnar files from
// evaluation results.
package materialize

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/carequery/fhirpath"
	"github.com/carequery/fhirpath/compiler"
	"golang.org/x/sync/errgroup"
)

// Column pairs an output column name with the expression producing its
// values.
type Column struct {
	Name string
	Expr *compiler.CompiledExpression
}

// Table materializes rows for a fixed set of columns.  It is immutable and
// safe for concurrent use.
type Table struct {
	columns []Column
	schema  *arrow.Schema
	alloc   memory.Allocator

	// Parallelism bounds how many records evaluate concurrently within
	// one batch.  Zero means sequential.
	Parallelism int
}

// NewTable builds a table over the given columns.  The Arrow schema is
// derived from each expression's static type: collection-valued expressions
// become list columns, scalars become nullable value columns.
func NewTable(columns []Column) (*Table, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("materialize: no columns")
	}
	fields := make([]arrow.Field, len(columns))
	for i, col := range columns {
		if col.Name == "" {
			return nil, fmt.Errorf("materialize: column %d has no name", i)
		}
		dt, err := arrowType(col.Expr.Type())
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
		if fhirpath.IsCollection(col.Expr.Type()) {
			dt = arrow.ListOf(dt)
		}
		fields[i] = arrow.Field{Name: col.Name, Type: dt, Nullable: true}
	}
	return &Table{
		columns: columns,
		schema:  arrow.NewSchema(fields, nil),
		alloc:   memory.DefaultAllocator,
	}, nil
}

// Schema returns the Arrow schema of the table's batches.
func (t *Table) Schema() *arrow.Schema { return t.schema }

// Materialize evaluates every column against every record and returns one
// record batch with a row per record.  Release the batch when done.
func (t *Table) Materialize(ctx context.Context, resources []*fhirpath.Resource) (arrow.Record, error) {
	rows, err := t.evaluate(ctx, resources)
	if err != nil {
		return nil, err
	}
	b := array.NewRecordBuilder(t.alloc, t.schema)
	defer b.Release()
	for _, row := range rows {
		for i, result := range row {
			if err := appendResult(b.Field(i), result); err != nil {
				return nil, fmt.Errorf("column %q: %w", t.columns[i].Name, err)
			}
		}
	}
	return b.NewRecord(), nil
}

// evaluate computes the full result grid, fanning records out across
// goroutines while keeping row order.
func (t *Table) evaluate(ctx context.Context, resources []*fhirpath.Resource) ([][]fhirpath.Collection, error) {
	rows := make([][]fhirpath.Collection, len(resources))
	g, ctx := errgroup.WithContext(ctx)
	if t.Parallelism > 1 {
		g.SetLimit(t.Parallelism)
	} else {
		g.SetLimit(1)
	}
	for i, res := range resources {
		g.Go(func() error {
			row := make([]fhirpath.Collection, len(t.columns))
			for j, col := range t.columns {
				out, err := col.Expr.Evaluate(ctx, res)
				if err != nil {
					return fmt.Errorf("column %q: %w", col.Name, err)
				}
				row[j] = out
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

// arrowType maps a static result type to the Arrow element type values of
// that column are encoded as.  Temporal values and structured elements are
// carried as their canonical string forms.
func arrowType(t fhirpath.Type) (arrow.DataType, error) {
	p, ok := t.(fhirpath.Primitive)
	if !ok {
		return arrow.BinaryTypes.String, nil
	}
	switch p.Kind() {
	case fhirpath.KindBoolean:
		return arrow.FixedWidthTypes.Boolean, nil
	case fhirpath.KindInteger:
		return arrow.PrimitiveTypes.Int64, nil
	case fhirpath.KindDecimal, fhirpath.KindQuantity:
		return arrow.PrimitiveTypes.Float64, nil
	case fhirpath.KindString, fhirpath.KindDate, fhirpath.KindDateTime, fhirpath.KindTime:
		return arrow.BinaryTypes.String, nil
	}
	return nil, fmt.Errorf("no arrow encoding for %s", t)
}

func appendResult(b array.Builder, result fhirpath.Collection) error {
	if lb, ok := b.(*array.ListBuilder); ok {
		lb.Append(true)
		for _, v := range result {
			if err := appendValue(lb.ValueBuilder(), v); err != nil {
				return err
			}
		}
		return nil
	}
	// Scalar column: empty results are NULL, multi-element results are a
	// cardinality violation surfaced at materialization time.
	switch len(result) {
	case 0:
		b.AppendNull()
		return nil
	case 1:
		return appendValue(b, result[0])
	}
	return &fhirpath.CardinalityError{Count: len(result), Want: "a single value"}
}

func appendValue(b array.Builder, v fhirpath.Value) error {
	switch b := b.(type) {
	case *array.BooleanBuilder:
		bv, ok := v.AsBool()
		if !ok {
			return fmt.Errorf("expected a boolean, got %s", v.Type())
		}
		b.Append(bv)
	case *array.Int64Builder:
		i, ok := v.AsInt()
		if !ok {
			return fmt.Errorf("expected an integer, got %s", v.Type())
		}
		b.Append(i)
	case *array.Float64Builder:
		if q, ok := v.AsQuantity(); ok {
			f, _ := q.Value.Float64()
			b.Append(f)
			return nil
		}
		d, ok := v.AsDecimal()
		if !ok {
			return fmt.Errorf("expected a number, got %s", v.Type())
		}
		f, _ := d.Float64()
		b.Append(f)
	case *array.StringBuilder:
		if s, ok := v.AsString(); ok {
			b.Append(s)
			return nil
		}
		b.Append(v.String())
	default:
		return fmt.Errorf("unsupported builder %T", b)
	}
	return nil
}
