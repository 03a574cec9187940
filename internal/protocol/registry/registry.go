// Package registry is the closed set of protocols the gateway speaks.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"trackgate/internal/protocol"
	"trackgate/internal/protocol/gt06"
	"trackgate/internal/protocol/h02"
	"trackgate/internal/protocol/teltonika"
	"trackgate/internal/protocol/tk103"
)

var ErrUnknownProtocol = errors.New("unknown protocol")

var protocols = map[string]protocol.Protocol{
	gt06.Name:      gt06.Protocol{},
	tk103.Name:     tk103.Protocol{},
	h02.Name:       h02.Protocol{},
	teltonika.Name: teltonika.Protocol{},
}

// Lookup returns the protocol registered under name.
func Lookup(name string) (protocol.Protocol, error) {
	p, ok := protocols[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, name)
	}
	return p, nil
}

// Names lists every registered protocol in lexical order.
func Names() []string {
	names := make([]string, 0, len(protocols))
	for name := range protocols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
