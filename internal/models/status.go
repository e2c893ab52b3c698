package models

import (
	"strings"

	"github.com/pkg/errors"
)

// Status is the canonical order status shared by every channel.
type Status string

const (
	StatusNuevo      Status = "nuevo"
	StatusPreparando Status = "preparando"
	StatusEnviado    Status = "enviado"
	StatusEntregado  Status = "entregado"
	StatusCancelado  Status = "cancelado"
)

var Statuses = []Status{StatusNuevo, StatusPreparando, StatusEnviado, StatusEntregado, StatusCancelado}

// statusPriority is the collapse order when several statuses apply to one order.
var statusPriority = []Status{
	StatusEntregado,
	StatusEnviado,
	StatusPreparando,
	StatusNuevo,
	StatusCancelado,
}

// stage is the position along the forward lifecycle. Cancelado sits outside it.
var stage = map[Status]int{
	StatusNuevo:      0,
	StatusPreparando: 1,
	StatusEnviado:    2,
	StatusEntregado:  3,
}

func (s Status) IsValid() bool {
	switch s {
	case StatusNuevo, StatusPreparando, StatusEnviado, StatusEntregado, StatusCancelado:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// IsTerminal reports whether sync jobs must leave the status alone.
func (s Status) IsTerminal() bool {
	return s == StatusEntregado || s == StatusCancelado
}

// Advances reports whether moving from s to next is a forward transition.
// Terminal statuses never move; cancelado is reachable from any open status.
func (s Status) Advances(next Status) bool {
	if s == next || s.IsTerminal() || !next.IsValid() {
		return false
	}
	if next == StatusCancelado {
		return true
	}
	return stage[next] > stage[s]
}

func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	if !s.IsValid() {
		return "", errors.Errorf("invalid status %q", v)
	}
	return s, nil
}

// Collapse resolves several mapped statuses to the highest-priority one.
// Empty or unrecognised input yields nuevo.
func Collapse(statuses []Status) Status {
	for _, p := range statusPriority {
		for _, s := range statuses {
			if s == p {
				return p
			}
		}
	}
	return StatusNuevo
}
