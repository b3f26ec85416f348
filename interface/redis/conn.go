package redis

// Connection represents a client session accepted by a RESP server
type Connection interface {
	Write([]byte) (int, error)
	Name() string
	RemoteAddr() string
	Close() error

	// READONLY / READWRITE of cluster mode
	SetReadOnly(bool)
	IsReadOnly() bool
	// SetAsking arms ASKING for the next command only
	SetAsking(bool)
	TakeAsking() bool
}
