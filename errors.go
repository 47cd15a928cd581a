package goxa

import (
	"errors"
	"fmt"
)

// ErrorCode 协调器拒绝一次调用的原因
type ErrorCode int

const (
	CodeTransactionAlreadyActive ErrorCode = iota + 1
	CodeGlobalTransactionAlreadyExists
	CodeConcurrentEnlistment
	CodeCannotResume
	CodeClientNotEnlisted
	CodeUnknownFlags
	CodeNoGlobalTransaction
	CodeNoTransactionFound
	CodeSuspendedWorkExists
	CodeResourceUnavailable
	CodeNotPrepared
	CodeNotActive
	CodeRolledBack
)

// XA 标准错误码，供协议层透传
const (
	XARBRollback = 100
	XAErrRMErr   = -3
	XAErrNoTA    = -4
	XAErrInval   = -5
	XAErrProto   = -6
	XAErrRMFail  = -7
	XAErrDupID   = -8
)

// ErrResourceHeuristic 资源管理器返回该错误（或包装该错误）表示分支已被启发式完成，需要 forget
var ErrResourceHeuristic = errors.New("resource manager completed the branch heuristically")

const transactionAlreadyActiveMsg = "Client thread already involved in a transaction. Transaction nesting is not supported. The current transaction must be completed first."

// TXError 协调器返回的错误. Message 为对外契约的一部分，不能随意修改
type TXError struct {
	Code    ErrorCode
	XACode  int
	Message string
	cause   error
}

func (e *TXError) Error() string {
	return e.Message
}

func (e *TXError) Unwrap() error {
	return e.cause
}

// Is 按错误码匹配，便于 errors.Is(err, ErrNoGlobalTransaction)
func (e *TXError) Is(target error) bool {
	t, ok := target.(*TXError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrTransactionAlreadyActive       = &TXError{Code: CodeTransactionAlreadyActive}
	ErrGlobalTransactionAlreadyExists = &TXError{Code: CodeGlobalTransactionAlreadyExists}
	ErrConcurrentEnlistment           = &TXError{Code: CodeConcurrentEnlistment}
	ErrCannotResume                   = &TXError{Code: CodeCannotResume}
	ErrClientNotEnlisted              = &TXError{Code: CodeClientNotEnlisted}
	ErrUnknownFlags                   = &TXError{Code: CodeUnknownFlags}
	ErrNoGlobalTransaction            = &TXError{Code: CodeNoGlobalTransaction}
	ErrNoTransactionFound             = &TXError{Code: CodeNoTransactionFound}
	ErrSuspendedWorkExists            = &TXError{Code: CodeSuspendedWorkExists}
	ErrResourceUnavailable            = &TXError{Code: CodeResourceUnavailable}
	ErrNotPrepared                    = &TXError{Code: CodeNotPrepared}
	ErrNotActive                      = &TXError{Code: CodeNotActive}
	ErrRolledBack                     = &TXError{Code: CodeRolledBack}
)

func errTransactionAlreadyActive() error {
	return &TXError{Code: CodeTransactionAlreadyActive, XACode: XAErrProto, Message: transactionAlreadyActiveMsg}
}

func errGlobalTransactionAlreadyExists(xid Xid) error {
	return &TXError{Code: CodeGlobalTransactionAlreadyExists, XACode: XAErrDupID, Message: fmt.Sprintf("Global transaction %s already exists.", xid)}
}

func errConcurrentEnlistment(xid Xid) error {
	return &TXError{Code: CodeConcurrentEnlistment, XACode: XAErrProto, Message: fmt.Sprintf("Concurrent enlistment in global transaction %s is not supported.", xid)}
}

func errCannotResume(xid Xid, clientID string) error {
	return &TXError{Code: CodeCannotResume, XACode: XAErrProto, Message: fmt.Sprintf("Cannot resume, transaction %s was not suspended by client %s.", xid, clientID)}
}

func errClientNotEnlisted(xid Xid) error {
	return &TXError{Code: CodeClientNotEnlisted, XACode: XAErrProto, Message: fmt.Sprintf("Client is not currently enlisted in transaction %s.", xid)}
}

func errUnknownFlags() error {
	return &TXError{Code: CodeUnknownFlags, XACode: XAErrInval, Message: "Unknown flags"}
}

func errNoGlobalTransaction(xid Xid) error {
	return &TXError{Code: CodeNoGlobalTransaction, XACode: XAErrNoTA, Message: fmt.Sprintf("No global transaction found for %s.", xid)}
}

func errNoTransactionFound(clientID string) error {
	return &TXError{Code: CodeNoTransactionFound, XACode: XAErrNoTA, Message: fmt.Sprintf("No transaction found for client %s.", clientID)}
}

func errSuspendedWorkExists(xid Xid) error {
	return &TXError{Code: CodeSuspendedWorkExists, XACode: XAErrProto, Message: fmt.Sprintf("Suspended work still exists on transaction %s.", xid)}
}

func errResourceUnavailable(name string, cause error) error {
	return &TXError{Code: CodeResourceUnavailable, XACode: XAErrRMFail, Message: fmt.Sprintf("Resource manager %s could not provide a recoverable resource.", name), cause: cause}
}

func errNotPrepared(xid Xid) error {
	return &TXError{Code: CodeNotPrepared, XACode: XAErrProto, Message: fmt.Sprintf("Transaction %s has not been prepared.", xid)}
}

func errNotActive(xid Xid) error {
	return &TXError{Code: CodeNotActive, XACode: XAErrProto, Message: fmt.Sprintf("Transaction %s is not active.", xid)}
}

func errRolledBack(xid Xid) error {
	return &TXError{Code: CodeRolledBack, XACode: XARBRollback, Message: fmt.Sprintf("Transaction %s was rolled back.", xid)}
}

// HeuristicError 二阶段扇出时部分资源失败. 事务已经从活跃表中移除，等待恢复流程或 forget 处理
type HeuristicError struct {
	Xid      Xid
	Outcome  Outcome
	Failures error
}

func (e *HeuristicError) Error() string {
	return fmt.Sprintf("Heuristic outcome for transaction %s, intended %s: %v", e.Xid, e.Outcome, e.Failures)
}

func (e *HeuristicError) Unwrap() error {
	return e.Failures
}
