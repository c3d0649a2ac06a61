package model

import "time"

// NotificationStatus mirrors the original ArchiveNotification's binary
// outcome: a notification reports either success or failure of one step.
type NotificationStatus string

const (
	NotificationSuccess NotificationStatus = "Success"
	NotificationFailure NotificationStatus = "Failure"
)

// NotificationType identifies which pipeline step produced a Notification.
type NotificationType string

const (
	NotificationTriage   NotificationType = "Triage"
	NotificationDecrypt  NotificationType = "Decrypt"
	NotificationExpand   NotificationType = "Expand"
	NotificationExtract  NotificationType = "Extract"
	NotificationImport   NotificationType = "Import"
	NotificationComplete NotificationType = "Complete"
)

// Notification reports the outcome of one pipeline step for one item,
// carrying every field required for auditability.
// The factory functions below mirror the static-constructor style used by
// the original ArchiveNotification so call sites never build one by hand.
type Notification struct {
	Type     NotificationType
	Status   NotificationStatus
	ItemName string
	FullName string
	Table    string
	Err      error

	InputFile      string
	ComputerName   string
	SystemType     string
	TimeStamp      string
	ImportStart    time.Time
	ImportEnd      time.Time
	BytesExtracted uint64
	LinesImported  uint64
	OutputFile     string

	Timestamp time.Time
}

func newNotification(t NotificationType, s NotificationStatus, item *ImportItem, err error) *Notification {
	n := &Notification{
		Type:      t,
		Status:    s,
		Err:       err,
		Timestamp: time.Now(),
	}
	if item != nil {
		n.ItemName = item.Name
		n.FullName = item.FullName
		n.InputFile = item.InputFile
		n.ComputerName = item.ComputerName
		n.SystemType = item.SystemType
		n.TimeStamp = item.TimeStamp
		n.ImportStart = item.ImportStart
		n.ImportEnd = item.ImportEnd
		n.BytesExtracted = item.BytesExtracted
		n.LinesImported = item.LinesImported
		n.OutputFile = item.OutputFile
		if item.Definition != nil && item.Definition.Table != nil {
			n.Table = item.Definition.Table.Name
		}
	}
	return n
}

func MakeSuccessNotification(t NotificationType, item *ImportItem) *Notification {
	return newNotification(t, NotificationSuccess, item, nil)
}

func MakeFailureNotification(t NotificationType, item *ImportItem, err error) *Notification {
	return newNotification(t, NotificationFailure, item, err)
}

func MakeCompleteNotification() *Notification {
	return newNotification(NotificationComplete, NotificationSuccess, nil, nil)
}

// IsComplete reports whether n is the sentinel that marks pipeline
// quiescence: every item seen so far has reached a terminal notification
// and no more input is expected.
func (n *Notification) IsComplete() bool {
	return n != nil && n.Type == NotificationComplete
}
