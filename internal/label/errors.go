package label

import (
	"fmt"

	"github.com/storelink/dpdbridge/internal/shipment"
)

// ErrorSet collects user-facing problems across one generation run.
// Per-order problems keep their order id; batch-level problems have
// OrderID zero. A non-empty set suppresses artifact output.
type ErrorSet struct {
	Errors []Message
}

// Message is one user-facing error line.
type Message struct {
	OrderID int    `json:"orderId,omitempty"`
	Text    string `json:"message"`
}

// AddIssue records a soft per-order problem from the builder.
func (e *ErrorSet) AddIssue(issue shipment.Issue) {
	e.Errors = append(e.Errors, Message{OrderID: issue.OrderID, Text: issue.Message})
}

// AddOrder records a per-order problem.
func (e *ErrorSet) AddOrder(orderID int, format string, args ...interface{}) {
	e.Errors = append(e.Errors, Message{OrderID: orderID, Text: fmt.Sprintf(format, args...)})
}

// AddBatch records a batch-level problem.
func (e *ErrorSet) AddBatch(format string, args ...interface{}) {
	e.Errors = append(e.Errors, Message{Text: fmt.Sprintf(format, args...)})
}

// Empty reports whether no problem was recorded.
func (e *ErrorSet) Empty() bool {
	return len(e.Errors) == 0
}
