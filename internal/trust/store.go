// Package trust is the durable mapping from client identity to issued
// token, granted permissions, and blocked flag. It is pure data access:
// the protocol server consults it, the host application mutates it
// through accept/block decisions, and nothing here knows about sockets.
package trust

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/orbitmenu/orbit/internal/protocol"
)

// HostIdentity is the reserved identity of the host process itself. It
// is reissued a fresh token on every Open, so internal callers can
// always authenticate over the same protocol external clients use, even
// when the store file is missing or corrupt.
const HostIdentity = "orbit-host"

// Record is one persistent trust entry, keyed by the client's chosen
// identity string. Tokens may be regenerated while the identity persists
// as blocked or unblocked; the identity, not the token, is the key.
type Record struct {
	Token       string                `json:"token,omitempty"`
	Permissions []protocol.Permission `json:"permissions"`
	Blocked     bool                  `json:"blocked,omitempty"`
}

// Store holds the identity -> Record map with file-backed persistence.
// The file is read once at Open and rewritten wholesale on every
// mutation. Mutators return the persistence error so callers can decide
// whether to surface a durability warning; the in-memory state is
// updated regardless.
type Store struct {
	mu      sync.Mutex
	path    string
	records map[string]Record
}

// Open loads the trust store from path, starting empty when the file is
// missing or unreadable, and reseeds the reserved host identity with a
// fresh token and every known permission.
func Open(path string) (*Store, error) {
	s := &Store{
		path:    path,
		records: make(map[string]Record),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First start, nothing to load.
	case err != nil:
		log.Printf("[Trust] read %s: %v (starting with empty store)", path, err)
	default:
		if err := json.Unmarshal(data, &s.records); err != nil {
			log.Printf("[Trust] decode %s: %v (starting with empty store)", path, err)
			s.records = make(map[string]Record)
		}
	}

	token, err := generateToken(HostIdentity)
	if err != nil {
		return nil, fmt.Errorf("trust: seed host identity: %w", err)
	}
	s.records[HostIdentity] = Record{
		Token:       token,
		Permissions: []protocol.Permission{protocol.PermissionShowMenu},
	}
	if err := s.save(); err != nil {
		log.Printf("[Trust] persist host identity: %v", err)
	}

	return s, nil
}

// AcceptAuth issues a new token for identity with the given permissions,
// overwriting any prior record (which revokes the old token). The token
// is returned even when persistence fails; the error tells the caller
// the grant may not survive a restart.
func (s *Store) AcceptAuth(identity string, perms []protocol.Permission) (string, error) {
	token, err := generateToken(identity)
	if err != nil {
		return "", fmt.Errorf("trust: generate token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[identity] = Record{
		Token:       token,
		Permissions: append([]protocol.Permission(nil), perms...),
		Blocked:     false,
	}
	return token, s.save()
}

// BlockClient marks identity as blocked, creating a blocked stub when
// the identity never completed authentication. Records are never
// deleted; blocking is the permanent deny-list state.
func (s *Store) BlockClient(identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[identity]
	if rec.Permissions == nil {
		rec.Permissions = []protocol.Permission{}
	}
	rec.Blocked = true
	s.records[identity] = rec
	return s.save()
}

// UnblockClient clears the blocked flag. The identity keeps its record
// (and token, if one was ever issued).
func (s *Store) UnblockClient(identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[identity]
	if !ok {
		return fmt.Errorf("trust: unknown identity %q", identity)
	}
	rec.Blocked = false
	s.records[identity] = rec
	return s.save()
}

// IsKnownClient reports whether identity has a record.
func (s *Store) IsKnownClient(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[identity]
	return ok
}

// IsClientBlocked reports whether identity is blocked. Unknown
// identities are not blocked.
func (s *Store) IsClientBlocked(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[identity].Blocked
}

// Authenticate checks an identity/token pair. On failure the returned
// reason is one of the enumerated decline reasons so the server can
// answer deterministically.
func (s *Store) Authenticate(identity, token string) (bool, protocol.DeclineReason) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[identity]
	if !ok {
		return false, protocol.ReasonUnknownClient
	}
	if rec.Blocked {
		return false, protocol.ReasonClientBlocked
	}
	if token == "" || token != rec.Token {
		return false, protocol.ReasonInvalidToken
	}
	return true, ""
}

// Permissions returns the capability tags granted to identity, nil when
// unknown.
func (s *Store) Permissions(identity string) []protocol.Permission {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[identity]
	if !ok {
		return nil
	}
	return append([]protocol.Permission(nil), rec.Permissions...)
}

// OwnToken returns the host's reserved identity and its current token.
func (s *Store) OwnToken() (identity, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return HostIdentity, s.records[HostIdentity].Token
}

// Get returns a copy of the record for identity.
func (s *Store) Get(identity string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[identity]
	if !ok {
		return Record{}, false
	}
	rec.Permissions = append([]protocol.Permission(nil), rec.Permissions...)
	return rec, true
}

// Identities returns all known identities in sorted order.
func (s *Store) Identities() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// save rewrites the whole map to disk. Callers hold s.mu.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("trust: encode store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("trust: write %s: %w", s.path, err)
	}
	return nil
}

// generateToken derives an opaque bearer token: 32 bytes from the CSPRNG
// mixed with the identity and the current time, hashed to a fixed-length
// hex string.
func generateToken(identity string) (string, error) {
	entropy := make([]byte, 32)
	if _, err := rand.Read(entropy); err != nil {
		return "", err
	}

	mix := append(entropy, identity...)
	mix = strconv.AppendInt(mix, time.Now().UnixNano(), 10)

	sum := sha3.Sum256(mix)
	return hex.EncodeToString(sum[:]), nil
}
