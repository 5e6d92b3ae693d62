package errors

import "errors"

// ── 错误分类 ──
// 业务模块的哨兵错误通过 New 绑定到以下分类之一，
// Handler 层既可以按具体错误、也可以按分类进行映射。

var (
	ErrValidation          = errors.New("参数校验失败")
	ErrPolicyViolation     = errors.New("违反业务规则")
	ErrNotFound            = errors.New("资源不存在")
	ErrInvalidTransition   = errors.New("状态流转不合法")
	ErrResourceUnavailable = errors.New("资源暂不可用")
	ErrConcurrencyConflict = errors.New("操作冲突，请稍后重试")
)

// ErrOptimisticLock 乐观锁冲突：记录已被其他操作修改
var ErrOptimisticLock = New(ErrConcurrencyConflict, "数据已被其他操作修改，请刷新后重试")

// Error 带分类的业务错误
type Error struct {
	kind error
	msg  string
}

// New 创建归属于 kind 分类的业务错误
func New(kind error, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Unwrap 返回错误分类，使 errors.Is(err, ErrValidation) 等判断成立
func (e *Error) Unwrap() error { return e.kind }

// Kind 返回 err 所属的分类，无法识别时返回 nil
func Kind(err error) error {
	for _, k := range []error{
		ErrValidation,
		ErrPolicyViolation,
		ErrNotFound,
		ErrInvalidTransition,
		ErrResourceUnavailable,
		ErrConcurrencyConflict,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
