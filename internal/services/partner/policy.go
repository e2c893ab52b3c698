package partner

import (
	"slices"

	"github.com/BearBump/OrderBox/internal/models"
)

// Rule admits orders of Channel whose logistic type is listed.
// An empty LogisticTypes admits any type, including none.
type Rule struct {
	Channel       models.Channel `yaml:"channel" json:"channel"`
	LogisticTypes []string       `yaml:"logistic_types" json:"logistic_types"`
}

// Policy admits an order when any rule does.
type Policy []Rule

func DefaultPolicy() Policy {
	return Policy{
		{Channel: models.ChannelWix},
		{Channel: models.ChannelMercadoLibre, LogisticTypes: []string{"self_service", "cross_docking"}},
	}
}

func (p Policy) Eligible(o models.Order) bool {
	for _, r := range p {
		if r.Channel != o.Channel {
			continue
		}
		if len(r.LogisticTypes) == 0 {
			return true
		}
		if o.LogisticType != nil && slices.Contains(r.LogisticTypes, *o.LogisticType) {
			return true
		}
	}
	return false
}
