/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package transport

import "fmt"

// TLSPolicy represents the TLS negotiation policy of a listener.
type TLSPolicy int

const (
	// TLSOptional offers STARTTLS without requiring it.
	TLSOptional TLSPolicy = iota

	// TLSDisabled never offers STARTTLS.
	TLSDisabled

	// TLSRequired refuses to authenticate a peer over an unsecured channel.
	TLSRequired
)

// String returns TLSPolicy string representation.
func (p TLSPolicy) String() string {
	switch p {
	case TLSOptional:
		return "optional"
	case TLSDisabled:
		return "disabled"
	case TLSRequired:
		return "required"
	}
	return ""
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (p *TLSPolicy) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	switch s {
	case "", "optional":
		*p = TLSOptional
	case "disabled":
		*p = TLSDisabled
	case "required":
		*p = TLSRequired
	default:
		return fmt.Errorf("transport.TLSPolicy: unrecognized policy: %s", s)
	}
	return nil
}
