package notification

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"clientportal.io/portal/internal/domain"
	"clientportal.io/portal/internal/pkg/logger"
)

// Sender dispatches one event.
type Sender interface {
	Dispatch(ctx context.Context, ev domain.Event) (*Result, error)
}

// Target identifies who an event is for and where it links to.
type Target struct {
	RecipientID    string
	ProjectID      string
	Link           string
	IdempotencyKey string
}

// Triggers builds category events with per-category email defaults.
// Milestone completions and task assignments default to no email.
type Triggers struct {
	sender Sender
}

// NewTriggers creates the trigger wrappers.
func NewTriggers(sender Sender) *Triggers {
	return &Triggers{sender: sender}
}

func (t *Triggers) dispatch(ctx context.Context, target Target, category domain.Category, title, message string, requestEmail bool) (*Result, error) {
	return t.sender.Dispatch(ctx, domain.Event{
		RecipientUserID: target.RecipientID,
		Category:        category,
		Title:           title,
		Message:         message,
		Link:            target.Link,
		ProjectID:       target.ProjectID,
		RequestEmail:    requestEmail,
		IdempotencyKey:  target.IdempotencyKey,
	})
}

// NotifyNewMessage tells the recipient someone sent them a message.
func (t *Triggers) NotifyNewMessage(ctx context.Context, target Target, senderName, preview string) (*Result, error) {
	return t.dispatch(ctx, target, domain.CategoryMessages,
		fmt.Sprintf("New message from %s", senderName),
		truncate(preview, 280),
		true,
	)
}

// NotifyInvoiceIssued tells a client a new invoice is available.
func (t *Triggers) NotifyInvoiceIssued(ctx context.Context, target Target, invoiceNumber, amount string) (*Result, error) {
	message := fmt.Sprintf("Invoice %s has been issued.", invoiceNumber)
	if amount != "" {
		message = fmt.Sprintf("Invoice %s for %s has been issued.", invoiceNumber, amount)
	}
	return t.dispatch(ctx, target, domain.CategoryInvoices,
		fmt.Sprintf("Invoice %s", invoiceNumber),
		message,
		true,
	)
}

// NotifyMilestoneCompleted announces a completed milestone. No email.
func (t *Triggers) NotifyMilestoneCompleted(ctx context.Context, target Target, milestoneName, projectName string) (*Result, error) {
	return t.dispatch(ctx, target, domain.CategoryMilestones,
		fmt.Sprintf("Milestone completed: %s", milestoneName),
		fmt.Sprintf("The milestone %q in %s was marked complete.", milestoneName, projectName),
		false,
	)
}

// NotifyMention tells the recipient they were mentioned.
func (t *Triggers) NotifyMention(ctx context.Context, target Target, authorName, excerpt string) (*Result, error) {
	return t.dispatch(ctx, target, domain.CategoryMentions,
		fmt.Sprintf("%s mentioned you", authorName),
		truncate(excerpt, 280),
		true,
	)
}

// NotifyTaskAssigned tells the recipient a task was assigned to them. No
// email.
func (t *Triggers) NotifyTaskAssigned(ctx context.Context, target Target, taskTitle, assignerName string) (*Result, error) {
	return t.dispatch(ctx, target, domain.CategoryTasks,
		fmt.Sprintf("New task: %s", taskTitle),
		fmt.Sprintf("%s assigned you the task %q.", assignerName, taskTitle),
		false,
	)
}

// NotifyProjectUpdate posts a project status update.
func (t *Triggers) NotifyProjectUpdate(ctx context.Context, target Target, projectName, summary string) (*Result, error) {
	return t.dispatch(ctx, target, domain.CategoryProjectUpdates,
		fmt.Sprintf("Update on %s", projectName),
		summary,
		true,
	)
}

// NotifyGeneral sends a free-form notification.
func (t *Triggers) NotifyGeneral(ctx context.Context, target Target, title, message string, requestEmail bool) (*Result, error) {
	return t.dispatch(ctx, target, domain.CategoryGeneral, title, message, requestEmail)
}

// DispatchToMany sends ev to every recipient. Best-effort: failures are
// logged and counted, they do not stop the remaining recipients.
func (t *Triggers) DispatchToMany(ctx context.Context, recipientIDs []string, ev domain.Event) (map[string]*Result, error) {
	results := make(map[string]*Result, len(recipientIDs))
	var failCount int
	for _, recipientID := range recipientIDs {
		e := ev
		e.RecipientUserID = recipientID
		res, err := t.sender.Dispatch(ctx, e)
		if err != nil {
			failCount++
			logger.Error("Notification dispatch failed",
				zap.String("recipient", recipientID),
				zap.String("category", string(ev.Category)),
				zap.Error(err),
			)
			continue
		}
		results[recipientID] = res
	}

	if failCount > 0 {
		return results, fmt.Errorf("notification dispatch failed for %d/%d recipients", failCount, len(recipientIDs))
	}
	return results, nil
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max-1])) + "…"
}
