package models

import (
	"strings"

	"github.com/pkg/errors"
)

type Channel string

const (
	ChannelMercadoLibre Channel = "mercadolibre"
	ChannelWix          Channel = "wix"
	ChannelFalabella    Channel = "falabella"
)

var Channels = []Channel{ChannelMercadoLibre, ChannelWix, ChannelFalabella}

func (c Channel) IsValid() bool {
	switch c {
	case ChannelMercadoLibre, ChannelWix, ChannelFalabella:
		return true
	}
	return false
}

func (c Channel) String() string { return string(c) }

func ParseChannel(v string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "mercadolibre", "ml", "meli":
		return ChannelMercadoLibre, nil
	case "wix":
		return ChannelWix, nil
	case "falabella", "fb":
		return ChannelFalabella, nil
	}
	return "", errors.Errorf("invalid channel %q", v)
}
