package engine

import (
	"context"

	"github.com/sharvit-labs/ordidx/compare"
	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/cursor"
	"github.com/sharvit-labs/ordidx/errkind"
)

// OpKind tags one Section 6 operation (spec.md §6 "Operation surface").
type OpKind int

const (
	OpCursorOpen OpKind = iota
	OpCursorGet
	OpCursorClose
	OpPut
	OpDel
	OpGet
	OpTruncate
	OpSync
	OpStat
)

// Operation is a tagged request referencing an index fragment
// (spec.md §2 "external requests ... arrive as tagged operations
// referencing an index fragment"). Only the fields relevant to Kind need
// be set.
type Operation struct {
	Kind       OpKind
	Index      *Index
	FragmentID contract.FragmentID
	File       contract.FileID

	Locker contract.LockerID
	Txn    contract.TxnID

	Loc     contract.TupLoc
	Version contract.TupleVersion
	Key     []compare.AttrValue
	Val     []byte

	CursorOptions cursor.Options
	Cursor        *cursor.Cursor
}

// Result is Dispatch's uniform return value; only the fields relevant to
// the dispatched Operation.Kind are populated.
type Result struct {
	Cursor *cursor.Cursor
	Row    cursor.Row
	Found  bool
	Val    []byte
	Deleted int

	EntryCount, EntryBytes, EntryOps int64

	Err error
}

// Dispatch routes op to the package/method that implements it — a thin
// switch over operation tags (spec.md §2, §4.12), grounded on the
// teacher's processQueryRequest switch in filodb_commands.go generalized
// from SQL-shaped commands to the Section 6 operation surface. Unknown
// Kinds report invalid_flags rather than panicking.
func Dispatch(ctx context.Context, env *Environment, op Operation) Result {
	switch op.Kind {
	case OpCursorOpen:
		c, err := env.OpenCursor(ctx, op.Index, op.FragmentID, op.CursorOptions)
		return Result{Cursor: c, Err: err}

	case OpCursorGet:
		if op.Cursor == nil {
			return Result{Err: errkind.New("engine.Dispatch", errkind.InvalidFlags)}
		}
		row, ok, err := op.Cursor.Next(ctx)
		return Result{Row: row, Found: ok, Err: err}

	case OpCursorClose:
		if op.Cursor == nil {
			return Result{Err: errkind.New("engine.Dispatch", errkind.InvalidFlags)}
		}
		err := env.CloseCursor(ctx, op.Index, op.FragmentID, op.Cursor)
		return Result{Err: err}

	case OpPut:
		err := env.Put(ctx, op.Index, op.FragmentID, op.Locker, op.Txn, op.Loc, op.Version, op.Key, op.Val)
		return Result{Err: err}

	case OpDel:
		err := env.Delete(ctx, op.Index, op.FragmentID, op.Locker, op.Txn, op.Loc, op.Version, op.Key, op.Val)
		return Result{Err: err}

	case OpGet:
		val, found, err := env.Get(ctx, op.Index, op.FragmentID, op.Locker, op.Key)
		return Result{Val: val, Found: found, Err: err}

	case OpTruncate:
		n, err := env.Truncate(ctx, op.Index, op.FragmentID, op.Locker, op.Txn)
		return Result{Deleted: n, Err: err}

	case OpSync:
		err := env.Sync(ctx, op.Index, op.FragmentID, op.File)
		return Result{Err: err}

	case OpStat:
		count, bytes, ops, err := env.Stat(op.Index, op.FragmentID)
		return Result{EntryCount: count, EntryBytes: bytes, EntryOps: ops, Err: err}

	default:
		return Result{Err: errkind.New("engine.Dispatch", errkind.InvalidFlags)}
	}
}
