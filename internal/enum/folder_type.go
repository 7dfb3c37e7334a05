package enum

type FolderType string

const (
	FolderInbox    FolderType = "inbox"
	FolderSent     FolderType = "sent"
	FolderDrafts   FolderType = "drafts"
	FolderTrash    FolderType = "trash"
	FolderSpam     FolderType = "spam"
	FolderCalendar FolderType = "calendar"
	FolderNotes    FolderType = "notes"
	FolderContacts FolderType = "contacts"
	FolderTasks    FolderType = "tasks"
	FolderUser     FolderType = "user"
	FolderOther    FolderType = "other"
)

func (t FolderType) String() string {
	return string(t)
}

// IsSynced reports whether the folder's message list is mirrored locally.
// Calendar, notes, contacts and tasks content syncs through dedicated
// scopes, not the message pipeline.
func (t FolderType) IsSynced() bool {
	switch t {
	case FolderCalendar, FolderNotes, FolderContacts, FolderTasks:
		return false
	}
	return true
}

// SystemFolderTypes are the folders every mailbox must expose after a
// successful folder sync. A hierarchy response missing any of them is a
// protocol anomaly, not an empty mailbox.
var SystemFolderTypes = []FolderType{
	FolderInbox,
	FolderSent,
	FolderDrafts,
	FolderTrash,
}
