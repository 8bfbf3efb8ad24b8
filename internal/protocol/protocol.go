// Package protocol defines the wire messages exchanged between menu
// clients and the Orbit daemon. Every message is a JSON object carrying a
// "type" discriminator; Decode dispatches on it and validates the shape
// before the server or client acts on the payload.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/orbitmenu/orbit/internal/menu"
)

// APIVersion is the protocol version constant. Client and server must
// match exactly; there is no negotiation or compatibility window.
const APIVersion = 1

// Message type discriminators.
const (
	TypeAuth         = "auth"
	TypeAuthRequest  = "auth-request"
	TypeAuthAccepted = "auth-accepted"
	TypeAuthDeclined = "auth-declined"
	TypeShowMenu     = "show-menu"
	TypeCloseMenu    = "close-menu"
	TypeSelectItem   = "select-item"
	TypeHoverItem    = "hover-item"
	TypeError        = "error"
)

// DeclineReason is a stable, machine-readable cause for a failed
// authentication attempt. Clients branch on these values, so they are
// part of the wire contract and must never change.
type DeclineReason string

const (
	ReasonMalformedRequest     DeclineReason = "malformed-request"
	ReasonUnknownClient        DeclineReason = "unknown-client"
	ReasonVersionNotSupported  DeclineReason = "version-not-supported"
	ReasonAlreadyAuthenticated DeclineReason = "already-authenticated"
	ReasonInvalidToken         DeclineReason = "invalid-token"
	ReasonInvalidPermissions   DeclineReason = "invalid-permissions"
	ReasonClientBlocked        DeclineReason = "client-blocked"
	ReasonCanceled             DeclineReason = "canceled"
)

var knownReasons = map[DeclineReason]struct{}{
	ReasonMalformedRequest:     {},
	ReasonUnknownClient:        {},
	ReasonVersionNotSupported:  {},
	ReasonAlreadyAuthenticated: {},
	ReasonInvalidToken:         {},
	ReasonInvalidPermissions:   {},
	ReasonClientBlocked:        {},
	ReasonCanceled:             {},
}

// ValidReason reports whether r is one of the enumerated decline reasons.
func ValidReason(r DeclineReason) bool {
	_, ok := knownReasons[r]
	return ok
}

// Permission is a capability tag granted to a client identity.
type Permission string

// PermissionShowMenu allows a client to request menu display. It is the
// only capability today; the enum is designed to grow.
const PermissionShowMenu Permission = "show-menu"

var knownPermissions = map[Permission]struct{}{
	PermissionShowMenu: {},
}

// ValidPermission reports whether p is a known capability tag.
func ValidPermission(p Permission) bool {
	_, ok := knownPermissions[p]
	return ok
}

// ValidPermissions reports whether perms is non-empty and every entry is
// a known capability tag.
func ValidPermissions(perms []Permission) bool {
	if len(perms) == 0 {
		return false
	}
	for _, p := range perms {
		if !ValidPermission(p) {
			return false
		}
	}
	return true
}

// Decode errors. ErrInvalidJSON covers framing failures; ErrMalformed
// covers syntactically valid JSON that matches no known message shape.
var (
	ErrInvalidJSON = errors.New("protocol: invalid JSON")
	ErrMalformed   = errors.New("protocol: unknown or malformed message")
)

// Message is implemented by every wire message.
type Message interface {
	MessageType() string
	validate() error
}

// Auth authenticates a returning client with a previously issued token.
type Auth struct {
	Type       string `json:"type"`
	ClientName string `json:"clientName"`
	Token      string `json:"token"`
	APIVersion int    `json:"apiVersion"`
}

// NewAuth builds an auth message for the current protocol version.
func NewAuth(clientName, token string) Auth {
	return Auth{Type: TypeAuth, ClientName: clientName, Token: token, APIVersion: APIVersion}
}

func (Auth) MessageType() string { return TypeAuth }

func (m Auth) validate() error {
	if m.ClientName == "" {
		return fmt.Errorf("%w: auth requires clientName", ErrMalformed)
	}
	return nil
}

// AuthRequest asks the host application to authorize a new client
// identity with the given permissions.
type AuthRequest struct {
	Type        string       `json:"type"`
	ClientName  string       `json:"clientName"`
	Permissions []Permission `json:"permissions"`
	APIVersion  int          `json:"apiVersion"`
}

// NewAuthRequest builds an auth-request message for the current protocol
// version.
func NewAuthRequest(clientName string, perms []Permission) AuthRequest {
	return AuthRequest{Type: TypeAuthRequest, ClientName: clientName, Permissions: perms, APIVersion: APIVersion}
}

func (AuthRequest) MessageType() string { return TypeAuthRequest }

func (m AuthRequest) validate() error {
	if m.ClientName == "" {
		return fmt.Errorf("%w: auth-request requires clientName", ErrMalformed)
	}
	return nil
}

// AuthAccepted confirms authentication and carries the (possibly freshly
// issued) token together with the granted permissions.
type AuthAccepted struct {
	Type        string       `json:"type"`
	Token       string       `json:"token"`
	Permissions []Permission `json:"permissions"`
}

// NewAuthAccepted builds an auth-accepted message.
func NewAuthAccepted(token string, perms []Permission) AuthAccepted {
	return AuthAccepted{Type: TypeAuthAccepted, Token: token, Permissions: perms}
}

func (AuthAccepted) MessageType() string { return TypeAuthAccepted }

func (m AuthAccepted) validate() error {
	if m.Token == "" {
		return fmt.Errorf("%w: auth-accepted requires token", ErrMalformed)
	}
	return nil
}

// AuthDeclined rejects an authentication attempt with an enumerated
// reason.
type AuthDeclined struct {
	Type   string        `json:"type"`
	Reason DeclineReason `json:"reason"`
}

// NewAuthDeclined builds an auth-declined message.
func NewAuthDeclined(reason DeclineReason) AuthDeclined {
	return AuthDeclined{Type: TypeAuthDeclined, Reason: reason}
}

func (AuthDeclined) MessageType() string { return TypeAuthDeclined }

func (m AuthDeclined) validate() error {
	if !ValidReason(m.Reason) {
		return fmt.Errorf("%w: auth-declined carries unknown reason %q", ErrMalformed, m.Reason)
	}
	return nil
}

// ShowMenu asks the host application to display the carried menu tree.
type ShowMenu struct {
	Type string    `json:"type"`
	Menu menu.Item `json:"menu"`
}

// NewShowMenu builds a show-menu message.
func NewShowMenu(root menu.Item) ShowMenu {
	return ShowMenu{Type: TypeShowMenu, Menu: root}
}

func (ShowMenu) MessageType() string { return TypeShowMenu }

func (m ShowMenu) validate() error {
	if err := menu.Validate(m.Menu); err != nil {
		return fmt.Errorf("%w: show-menu: %v", ErrMalformed, err)
	}
	return nil
}

// CloseMenu informs the client that the menu was dismissed.
type CloseMenu struct {
	Type string `json:"type"`
}

// NewCloseMenu builds a close-menu message.
func NewCloseMenu() CloseMenu { return CloseMenu{Type: TypeCloseMenu} }

func (CloseMenu) MessageType() string { return TypeCloseMenu }

func (CloseMenu) validate() error { return nil }

// SelectItem informs the client that the user selected the item at the
// given path.
type SelectItem struct {
	Type string    `json:"type"`
	Path menu.Path `json:"path"`
}

// NewSelectItem builds a select-item message.
func NewSelectItem(path menu.Path) SelectItem {
	return SelectItem{Type: TypeSelectItem, Path: path}
}

func (SelectItem) MessageType() string { return TypeSelectItem }

func (m SelectItem) validate() error {
	if err := m.Path.Validate(); err != nil {
		return fmt.Errorf("%w: select-item: %v", ErrMalformed, err)
	}
	return nil
}

// HoverItem informs the client that the user is hovering the item at the
// given path.
type HoverItem struct {
	Type string    `json:"type"`
	Path menu.Path `json:"path"`
}

// NewHoverItem builds a hover-item message.
func NewHoverItem(path menu.Path) HoverItem {
	return HoverItem{Type: TypeHoverItem, Path: path}
}

func (HoverItem) MessageType() string { return TypeHoverItem }

func (m HoverItem) validate() error {
	if err := m.Path.Validate(); err != nil {
		return fmt.Errorf("%w: hover-item: %v", ErrMalformed, err)
	}
	return nil
}

// ErrorMessage reports a transport or protocol-misuse failure. It is
// never used for authentication outcomes, which carry enumerated decline
// reasons instead.
type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewError builds an error message.
func NewError(text string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Error: text}
}

func (ErrorMessage) MessageType() string { return TypeError }

func (m ErrorMessage) validate() error {
	if m.Error == "" {
		return fmt.Errorf("%w: error message requires error text", ErrMalformed)
	}
	return nil
}

// Encode marshals a message for the wire.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.MessageType(), err)
	}
	return data, nil
}

// Decode parses raw bytes into a validated message. It returns
// ErrInvalidJSON when the payload is not a JSON object, and ErrMalformed
// when the type discriminator is unknown or the fields do not satisfy the
// message's shape.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, ErrInvalidJSON
	}

	var msg Message
	switch envelope.Type {
	case TypeAuth:
		msg = decodeInto[Auth](data)
	case TypeAuthRequest:
		msg = decodeInto[AuthRequest](data)
	case TypeAuthAccepted:
		msg = decodeInto[AuthAccepted](data)
	case TypeAuthDeclined:
		msg = decodeInto[AuthDeclined](data)
	case TypeShowMenu:
		msg = decodeInto[ShowMenu](data)
	case TypeCloseMenu:
		msg = decodeInto[CloseMenu](data)
	case TypeSelectItem:
		msg = decodeInto[SelectItem](data)
	case TypeHoverItem:
		msg = decodeInto[HoverItem](data)
	case TypeError:
		msg = decodeInto[ErrorMessage](data)
	default:
		return nil, fmt.Errorf("%w: type %q", ErrMalformed, envelope.Type)
	}

	if msg == nil {
		return nil, fmt.Errorf("%w: type %q", ErrMalformed, envelope.Type)
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// decodeInto unmarshals data into T, returning nil on failure so Decode
// can fold JSON-shape mismatches into ErrMalformed.
func decodeInto[T Message](data []byte) Message {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
