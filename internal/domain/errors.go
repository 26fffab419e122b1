package domain

import "fmt"

// Kind 失败类别：每一类对应调用方不同的纠正动作（换角色、调整金额、等待时间窗口……）
type Kind string

const (
	KindUnauthorized    Kind = "Unauthorized"    // 调用方不具备该操作所需角色
	KindWrongAmount     Kind = "WrongAmount"     // 附带金额与要求不精确匹配
	KindAlreadyDone     Kind = "AlreadyDone"     // 单向状态迁移被重复调用
	KindWindowViolation Kind = "WindowViolation" // 在有效时间窗口之外调用
	KindUnknownParty    Kind = "UnknownParty"    // 引用的竞拍人/拍卖不处于期望状态
	KindTransferFailed  Kind = "TransferFailed"  // 代币合约或以太转发报告失败
)

// Error 核心层错误
// Code 为空时表示“类别哨兵”，errors.Is 按 Kind 匹配；否则按 Code 精确匹配
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is 支持 errors.Is(err, ErrAlreadyDone) 与 errors.Is(err, ErrAlreadyPaid) 两种匹配
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" {
		return t.Kind == e.Kind
	}
	return t.Code == e.Code
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// 类别哨兵
var (
	ErrUnauthorized    = &Error{Kind: KindUnauthorized}
	ErrWrongAmount     = &Error{Kind: KindWrongAmount}
	ErrAlreadyDone     = &Error{Kind: KindAlreadyDone}
	ErrWindowViolation = &Error{Kind: KindWindowViolation}
	ErrUnknownParty    = &Error{Kind: KindUnknownParty}
	ErrTransferFailed  = &Error{Kind: KindTransferFailed}
)

// 具体错误
var (
	ErrSenderNotAuthorized = newError(KindUnauthorized, "Unauthorized", "sender not authorized")
	ErrNotInvited          = newError(KindUnauthorized, "NotInvited", "sender is not an invited bidder")

	ErrAmountMismatch    = newError(KindWrongAmount, "WrongAmount", "attached value does not match the required amount")
	ErrInsufficientValue = newError(KindWrongAmount, "InsufficientValue", "attached value is below the configured minimum")
	ErrInvalidArgument   = newError(KindWrongAmount, "InvalidArgument", "invalid argument")

	ErrAlreadyDeposited = newError(KindAlreadyDone, "AlreadyDeposited", "deposit already received")
	ErrAlreadyConcluded = newError(KindAlreadyDone, "AlreadyConcluded", "auction already concluded")
	ErrAlreadyCancelled = newError(KindAlreadyDone, "AlreadyCancelled", "auction already cancelled")
	ErrAlreadyPaid      = newError(KindAlreadyDone, "AlreadyPaid", "buyer already paid")
	ErrAlreadyDelivered = newError(KindAlreadyDone, "AlreadyDelivered", "seller already delivered")
	ErrAlreadyWithdrawn = newError(KindAlreadyDone, "AlreadyWithdrawn", "deposit already withdrawn")

	ErrInvalidWindow    = newError(KindWindowViolation, "InvalidWindow", "end time must be after start time")
	ErrWindowNotStarted = newError(KindWindowViolation, "WindowNotStarted", "auction window has not started")
	ErrWindowClosed     = newError(KindWindowViolation, "WindowClosed", "auction window has closed")
	ErrWindowOpen       = newError(KindWindowViolation, "WindowOpen", "auction has not concluded yet")

	ErrUnknownBidder        = newError(KindUnknownParty, "UnknownBidder", "bidder never deposited")
	ErrUnknownAuction       = newError(KindUnknownParty, "UnknownAuction", "auction does not exist")
	ErrUnknownEscrow        = newError(KindUnknownParty, "UnknownEscrow", "escrow does not exist")
	ErrUnknownToken         = newError(KindUnknownParty, "UnknownToken", "token contract does not exist")
	ErrSellerDepositMissing = newError(KindUnknownParty, "SellerDepositMissing", "seller has not deposited collateral")
	ErrNothingToWithdraw    = newError(KindUnknownParty, "NothingToWithdraw", "no withdrawable stake for sender")

	ErrInsufficientBalance   = newError(KindTransferFailed, "InsufficientBalance", "transfer amount exceeds balance")
	ErrInsufficientAllowance = newError(KindTransferFailed, "InsufficientAllowance", "transfer amount exceeds allowance")
)

// KindOf 返回错误链上第一个核心错误的类别；非核心错误返回空
func KindOf(err error) (Kind, string) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind, e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			if c, ok := err.(interface{ Cause() error }); ok {
				err = c.Cause()
				continue
			}
			return "", ""
		}
		err = u.Unwrap()
	}
	return "", ""
}
