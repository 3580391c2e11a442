package store

// Change reports what an upsert did to the stored record.
type Change int

const (
	Unchanged Change = iota
	Inserted
	Updated
)

func (c Change) String() string {
	switch c {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// PendingWrite is a write-back queued for the remote feed.
type PendingWrite struct {
	ID           int64
	ClientID     string
	Path         string
	Payload      string // JSON; "null" removes the path
	Status       string // queued, sending, sent, failed
	Attempts     int
	ErrorMessage string
	CreatedAt    int64
}
