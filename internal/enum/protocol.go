package enum

type ProtocolKind string

const (
	ProtocolEAS  ProtocolKind = "eas"
	ProtocolIMAP ProtocolKind = "imap"
	ProtocolPOP3 ProtocolKind = "pop3"
)

func (t ProtocolKind) String() string {
	return string(t)
}

func GetProtocolKind(s string) ProtocolKind {
	switch s {
	case "eas":
		return ProtocolEAS
	case "imap":
		return ProtocolIMAP
	case "pop3":
		return ProtocolPOP3
	default:
		return ""
	}
}
