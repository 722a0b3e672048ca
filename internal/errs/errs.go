package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

type Category int

const (
	CategoryUnknown Category = iota
	CategoryNetwork
	CategoryAntiDetection
	CategoryParse
	CategoryContentNotFound
	CategoryConfig
	CategoryRendering
)

func (c Category) String() string {
	switch c {
	case CategoryNetwork:
		return "network"
	case CategoryAntiDetection:
		return "anti_detection"
	case CategoryParse:
		return "parse"
	case CategoryContentNotFound:
		return "content_not_found"
	case CategoryConfig:
		return "config"
	case CategoryRendering:
		return "rendering"
	default:
		return "unknown"
	}
}

type Severity int

const (
	// SeverityRecoverable means skip this item and continue the batch.
	SeverityRecoverable Severity = iota
	// SeverityRetriable means the same operation can safely be attempted again.
	SeverityRetriable
	// SeverityFatal stops the whole run.
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityFatal:
		return "fatal"
	case SeverityRetriable:
		return "retriable"
	default:
		return "recoverable"
	}
}

var (
	// ErrNoSession is returned by rotation on an empty pool.
	ErrNoSession = errors.New("no session available")
	// ErrSignInRedirect means the rendered page bounced to the sign-in surface,
	// the current identity is unusable.
	ErrSignInRedirect = errors.New("redirected to sign-in")
	// ErrContentNotRendered means the content container never appeared within its timeout.
	ErrContentNotRendered = errors.New("content not rendered")
)

// Error is an error tagged with both classification axes.
type Error struct {
	Category Category
	Severity Severity
	Op       string
	Hint     string
	Context  map[string]any
	Err      error
}

func (e *Error) Error() string {
	var out strings.Builder
	out.WriteString(fmt.Sprintf("%s [%s/%s]", e.Op, e.Category, e.Severity))
	if e.Err != nil {
		out.WriteString(": ")
		out.WriteString(e.Err.Error())
	}
	return out.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// With attaches a context key/value and returns the same error.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = map[string]any{}
	}
	e.Context[key] = value
	return e
}

func New(category Category, severity Severity, op string, err error) *Error {
	return &Error{
		Category: category,
		Severity: severity,
		Op:       op,
		Hint:     defaultHints[category],
		Err:      err,
	}
}

func Network(op string, err error) *Error {
	return New(CategoryNetwork, SeverityRetriable, op, err)
}

func Parse(op string, err error) *Error {
	return New(CategoryParse, SeverityRecoverable, op, err)
}

func ContentNotFound(op string, err error) *Error {
	return New(CategoryContentNotFound, SeverityRecoverable, op, err)
}

func Config(op string, err error) *Error {
	return New(CategoryConfig, SeverityFatal, op, err)
}

func Rendering(op string, err error) *Error {
	return New(CategoryRendering, SeverityRecoverable, op, err)
}

var defaultHints = map[Category]string{
	CategoryNetwork:         "check the network connection or proxy settings",
	CategoryAntiDetection:   "refresh the session cookies or lower the request rate",
	CategoryParse:           "the page structure may have changed",
	CategoryContentNotFound: "the content may have been deleted or requires login",
	CategoryConfig:          "check zhihu.json5 and the cookie files",
	CategoryRendering:       "check that a chromium binary is available",
}

// BlockedError is a block event detected on the protocol tier, by the time it
// reaches the caller the session pool has already rotated.
type BlockedError struct {
	Path       string
	StatusCode int
	// Rotated is false when the pool had nothing to rotate to.
	Rotated bool
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked on %s (status %d)", e.Path, e.StatusCode)
}

// IsBlocked reports whether err carries a BlockedError.
func IsBlocked(err error) bool {
	var blocked *BlockedError
	return errors.As(err, &blocked)
}

// Classify maps any error onto the two classification axes.
func Classify(err error) (Category, Severity) {
	if err == nil {
		return CategoryUnknown, SeverityRecoverable
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Category, tagged.Severity
	}
	var blocked *BlockedError
	if errors.As(err, &blocked) {
		return CategoryAntiDetection, SeverityRecoverable
	}
	switch {
	case errors.Is(err, ErrSignInRedirect):
		return CategoryAntiDetection, SeverityRecoverable
	case errors.Is(err, ErrContentNotRendered):
		return CategoryContentNotFound, SeverityRecoverable
	case errors.Is(err, ErrNoSession):
		return CategoryConfig, SeverityRecoverable
	case errors.Is(err, context.Canceled):
		return CategoryUnknown, SeverityFatal
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryNetwork, SeverityRetriable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryNetwork, SeverityRetriable
	}
	return CategoryUnknown, SeverityRecoverable
}

// IsFatal reports whether err should stop the whole run.
func IsFatal(err error) bool {
	_, severity := Classify(err)
	return severity == SeverityFatal
}

// Hint returns a human readable suggestion for err, or an empty string.
func Hint(err error) string {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Hint
	}
	category, _ := Classify(err)
	return defaultHints[category]
}
