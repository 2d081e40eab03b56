package infra

import (
	"strings"

	"serial-allocator/admission/domain"
)

// KeySpace monta os nomes das chaves Redis a partir de um prefixo comum.
type KeySpace struct {
	Prefix string
}

func NewKeySpace(prefix string) KeySpace {
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "appt"
	}
	return KeySpace{Prefix: prefix}
}

func (k KeySpace) Counter(key domain.Key) string { return k.Prefix + ":serial:" + key.String() }
func (k KeySpace) Lock(key domain.Key) string    { return k.Prefix + ":lock:" + key.String() }

func (k KeySpace) Status(ref domain.Reference) string { return k.Prefix + ":status:" + string(ref) }

func (k KeySpace) Stream() string     { return k.Prefix + ":events" }
func (k KeySpace) DeadStream() string { return k.Stream() + ":dead" }
func (k KeySpace) Stats() string      { return k.Prefix + ":stats" }
