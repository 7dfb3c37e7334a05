package enum

type EntityKind string

const (
	FOLDER  EntityKind = "FOLDER"
	MESSAGE EntityKind = "MESSAGE"
	EVENT   EntityKind = "EVENT"
	NOTE    EntityKind = "NOTE"
)

func (entityKind EntityKind) String() string {
	return string(entityKind)
}

func GetEntityKind(s string) EntityKind {
	return EntityKind(s)
}
