package core

import (
	"context"
	"errors"
)

var errNoColumns = errors.New("no columns; refusing to create a table without columns")

// Reconcile makes t ready to receive rows for cols inside s. An absent table
// is created with one TEXT column per header field; an existing one is
// emptied. Its columns are not compared with cols.
//
// Nothing is committed; the caller owns the transaction.
func Reconcile(ctx context.Context, s Session, t TableIdentifier, cols ColumnSpec) (ReconcileAction, error) {
	if len(cols) == 0 {
		return ActionNone, newError(KindSchema, StateReconciling, t.String(), errNoColumns)
	}
	if err := ValidateTable(t); err != nil {
		return ActionNone, newError(KindIdentifier, StateReconciling, t.String(), err)
	}
	if bad, err := ValidateColumns(cols); err != nil {
		return ActionNone, newError(KindIdentifier, StateReconciling, bad, err)
	}

	exists, err := s.TableExists(ctx, t)
	if err != nil {
		return ActionNone, classify(ctx, KindSchema, StateReconciling, t.String(), err)
	}

	if !exists {
		if err := s.CreateTable(ctx, t, cols); err != nil {
			return ActionNone, classify(ctx, KindSchema, StateReconciling, t.String(), err)
		}
		return ActionCreated, nil
	}

	if err := s.TruncateTable(ctx, t); err != nil {
		return ActionNone, classify(ctx, KindSchema, StateReconciling, t.String(), err)
	}
	return ActionTruncated, nil
}
