package queue

import (
	"sort"

	"github.com/cuongbtq/alliance-chat/internal/translation/domain"
)

// Item is the in-memory projection of a pending translation job.
type Item struct {
	JobID          string
	UserID         string
	MessageID      string
	RoomCode       string
	Content        string
	TargetLanguage string
	RetryCount     int
	// Priority is a unix-nano timestamp; lower is served first.
	Priority int64

	// unrecorded holds the result of an attempt the store did not accept.
	// The next dispatch records it instead of calling the translator again.
	unrecorded *outcome
}

type outcome struct {
	text string
	err  error
}

// Identity returns the idempotency key of the item.
func (i Item) Identity() domain.Identity {
	return domain.Identity{UserID: i.UserID, MessageID: i.MessageID, TargetLanguage: i.TargetLanguage}
}

// ItemFromJob builds a queue item from a stored job, prioritised by creation time.
func ItemFromJob(job *domain.Job) Item {
	return Item{
		JobID:          job.JobID,
		UserID:         job.UserID,
		MessageID:      job.MessageID,
		RoomCode:       job.RoomCode,
		Content:        job.SourceText,
		TargetLanguage: job.TargetLanguage,
		RetryCount:     job.RetryCount,
		Priority:       job.CreatedAt.UnixNano(),
	}
}

// insertOrdered places item after every element with priority <= item.Priority.
func insertOrdered(items []Item, item Item) []Item {
	idx := sort.Search(len(items), func(i int) bool {
		return items[i].Priority > item.Priority
	})
	items = append(items, Item{})
	copy(items[idx+1:], items[idx:])
	items[idx] = item
	return items
}
